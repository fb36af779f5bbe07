package relay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/han-fei/stackmon/stats/internal/collector"
	"github.com/han-fei/stackmon/stats/internal/config"
	"github.com/han-fei/stackmon/stats/internal/models"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
)

// fakePublisher 记录发布的消息，可注入失败
type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	failures int
	closed   bool
	block    chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[string][][]byte)}
}

func (p *fakePublisher) Publish(ctx context.Context, stack string, payload []byte) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages[stack] = append(p.messages[stack], payload)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) count(stack string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[stack])
}

// TestSinkPublishesWithRetry 测试失败后重试发布
func TestSinkPublishesWithRetry(t *testing.T) {
	pub := newFakePublisher()
	pub.failures = 2
	sink := NewSink("fake", pub, 8, 3, zap.NewNop())

	sink.Emit(collector.StatsEvent, "blog", []models.ContainerStats{{ID: "c1"}})
	require.Eventually(t, func() bool { return pub.count("blog") == 1 }, 3*time.Second, 10*time.Millisecond)

	var msg models.StatsMessage
	pub.mu.Lock()
	require.NoError(t, json.Unmarshal(pub.messages["blog"][0], &msg))
	pub.mu.Unlock()
	assert.Equal(t, collector.StatsEvent, msg.Type)
	assert.Equal(t, "blog", msg.Data.StackName)
	assert.Equal(t, "c1", msg.Data.Stats[0].ID)

	require.NoError(t, sink.Close())
	assert.True(t, pub.closed)
	assert.False(t, sink.Connected())
}

// TestSinkDropsWhenFull 测试队列满时Emit不阻塞
func TestSinkDropsWhenFull(t *testing.T) {
	pub := newFakePublisher()
	pub.block = make(chan struct{})
	sink := NewSink("fake", pub, 1, 1, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Emit(collector.StatsEvent, "blog", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Positive(t, sink.Dropped())

	close(pub.block)
	require.NoError(t, sink.Close())
	assert.NotPanics(t, func() { sink.Emit(collector.StatsEvent, "blog", nil) })
}

// TestRelayKeepsCollectorsAlive 测试转发器为配置的堆栈获取采集器
func TestRelayKeepsCollectorsAlive(t *testing.T) {
	stacksDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(stacksDir, "shop"), 0o755))

	opts := collector.Options{
		Command:       "/bin/sh",
		Args:          []string{"-c", `while true; do printf '{"Container":"c1","Name":"shop-db-1"}'; sleep 0.05; done`},
		SweepInterval: time.Hour,
		IdleInterval:  time.Hour,
		StopTimeout:   time.Second,
	}
	directory := collector.NewDirectory(opts, zap.NewNop(), telemetry.NewMetrics(nil))
	defer directory.Close()

	pub := newFakePublisher()
	sink := NewSink("fake", pub, 64, 1, zap.NewNop())
	relay := NewRelay(config.RelayConfig{Stacks: []string{"shop", "../bad"}, Interval: 20 * time.Millisecond},
		stacksDir, directory, []*Sink{sink}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	require.Eventually(t, func() bool { return pub.count("shop") > 0 }, 3*time.Second, 10*time.Millisecond)

	// 采集器被停止后，下一个周期重新获取
	first, ok := directory.Get("shop")
	require.True(t, ok)
	first.Stop()
	require.Eventually(t, func() bool {
		c, ok := directory.Get("shop")
		return ok && c != first && c.Running()
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, relay.Close())
}

// TestRelayEnsureAfterDirectoryClosed 测试目录关闭后转发器不再获取采集器
func TestRelayEnsureAfterDirectoryClosed(t *testing.T) {
	directory := collector.NewDirectory(collector.Options{Command: "/bin/sh"}, zap.NewNop(), nil)
	directory.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	sink := NewSink("fake", newFakePublisher(), 4, 1, zap.NewNop())
	defer sink.Close()
	relay := NewRelay(config.RelayConfig{Stacks: []string{"shop", "blog"}, Interval: time.Hour},
		t.TempDir(), directory, []*Sink{sink}, zap.New(core))

	relay.ensure()
	assert.Equal(t, 0, logs.Len())
	assert.Equal(t, 0, directory.Len())
}

// TestRelayRunWithoutSinks 测试没有订阅者时立即返回
func TestRelayRunWithoutSinks(t *testing.T) {
	directory := collector.NewDirectory(collector.Options{}, zap.NewNop(), nil)
	relay := NewRelay(config.RelayConfig{Stacks: []string{"shop"}, Interval: time.Hour}, t.TempDir(), directory, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when no sinks are configured")
	}
	assert.Equal(t, 0, directory.Len())
}

// TestBuildSinksDisabled 测试未启用时不创建订阅者
func TestBuildSinksDisabled(t *testing.T) {
	sinks, err := BuildSinks(context.Background(), config.Default().Relay, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, sinks)
}

// TestBuildSinksKafka 测试Kafka订阅者的创建不需要连接
func TestBuildSinksKafka(t *testing.T) {
	cfg := config.Default().Relay
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}

	sinks, err := BuildSinks(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "kafka:stack-stats", sinks[0].ID())
	require.NoError(t, sinks[0].Close())
}

// TestKafkaPublisherConfig 测试Kafka写入器配置
func TestKafkaPublisherConfig(t *testing.T) {
	cfg := config.Default().Relay.Kafka
	cfg.Brokers = []string{"k1:9092", "k2:9092"}

	p := NewKafkaPublisher(cfg)
	assert.Equal(t, "stack-stats", p.writer.Topic)
	require.NoError(t, p.Close())
}

// TestRedisPublisherChannel 测试Redis频道命名
func TestRedisPublisherChannel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	p := newRedisPublisher(client, config.Default().Relay.Redis.ChannelPrefix)
	assert.Equal(t, "stackmon:stats:blog", p.Channel("blog"))
	require.NoError(t, p.Close())
}
