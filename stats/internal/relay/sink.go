// Package relay 把堆栈统计转发到Kafka与Redis等常驻订阅者
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/han-fei/stackmon/internal/utils"
	"github.com/han-fei/stackmon/pkg/interfaces"
	"github.com/han-fei/stackmon/stats/internal/models"
)

// envelope 排队等待发布的批次
type envelope struct {
	stack   string
	payload []byte
}

// Sink 常驻订阅者：Emit只入队，由单个工作协程带重试地发布
type Sink struct {
	id        string
	publisher interfaces.Publisher
	retry     *utils.RetryPolicy
	logger    *zap.Logger

	queue   chan envelope
	closed  atomic.Bool
	dropped atomic.Int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// NewSink 创建并启动常驻订阅者
func NewSink(id string, publisher interfaces.Publisher, queueSize, maxRetry int, logger *zap.Logger) *Sink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		id:        id,
		publisher: publisher,
		retry:     utils.NewRetryPolicy(maxRetry, 100*time.Millisecond, 2*time.Second, 2),
		logger:    logger.Named("relay").With(zap.String("sink", id)),
		queue:     make(chan envelope, queueSize),
		cancel:    cancel,
	}

	s.wg.Add(1)
	go utils.WrapPanic(s.logger, func() {
		defer s.wg.Done()
		s.run(ctx)
	})()
	return s
}

// ID 实现interfaces.Subscriber
func (s *Sink) ID() string {
	return s.id
}

// Connected 实现interfaces.Subscriber，关闭后返回false以便被清理
func (s *Sink) Connected() bool {
	return !s.closed.Load()
}

// Emit 实现interfaces.Subscriber，队列满时丢弃
func (s *Sink) Emit(event string, stack string, stats []models.ContainerStats) {
	payload, err := json.Marshal(models.StatsMessage{
		Type: event,
		Data: models.StatsEventData{StackName: stack, Stats: stats},
	})
	if err != nil {
		s.logger.Error("序列化统计数据失败", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- envelope{stack: stack, payload: payload}:
	default:
		s.dropped.Add(1)
		s.logger.Warn("转发队列已满，丢弃批次", zap.String("stack", stack))
	}
}

// Dropped 返回因队列满而丢弃的批次数
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close 停止接收，发布完队列中剩余的批次后关闭发布者
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	return s.publisher.Close()
}

// run 工作协程
func (s *Sink) run(ctx context.Context) {
	for env := range s.queue {
		err := s.retry.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			return s.publisher.Publish(ctx, env.stack, env.payload)
		})
		if err != nil {
			s.logger.Warn("转发统计失败", zap.String("stack", env.stack), zap.Error(err))
		}
	}
}
