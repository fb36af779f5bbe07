package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/han-fei/stackmon/stats/internal/collector"
	"github.com/han-fei/stackmon/stats/internal/config"
)

// Relay 让配置中的堆栈始终有采集器在为常驻订阅者工作
//
// 采集器退出后不会自动重启，Relay在每个周期重新获取。
type Relay struct {
	stacks    []string
	stacksDir string
	interval  time.Duration
	directory *collector.Directory
	sinks     []*Sink
	logger    *zap.Logger
}

// NewRelay 创建转发器
func NewRelay(cfg config.RelayConfig, stacksDir string, directory *collector.Directory, sinks []*Sink, logger *zap.Logger) *Relay {
	return &Relay{
		stacks:    cfg.Stacks,
		stacksDir: stacksDir,
		interval:  cfg.Interval,
		directory: directory,
		sinks:     sinks,
		logger:    logger.Named("relay"),
	}
}

// BuildSinks 按配置创建Kafka与Redis常驻订阅者
func BuildSinks(ctx context.Context, cfg config.RelayConfig, logger *zap.Logger) ([]*Sink, error) {
	var sinks []*Sink

	if cfg.Kafka.Enabled {
		publisher := NewKafkaPublisher(cfg.Kafka)
		sinks = append(sinks, NewSink("kafka:"+cfg.Kafka.Topic, publisher, cfg.Kafka.QueueSize, cfg.Kafka.MaxRetry, logger))
		logger.Info("Kafka转发已启用", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Redis.Enabled {
		publisher, err := NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("创建Redis转发失败: %w", err)
		}
		sinks = append(sinks, NewSink("redis:"+cfg.Redis.Addr, publisher, cfg.Redis.QueueSize, cfg.Redis.MaxRetry, logger))
		logger.Info("Redis转发已启用", zap.String("addr", cfg.Redis.Addr))
	}

	return sinks, nil
}

// Run 立即获取一次，然后周期性获取，直到ctx取消
func (r *Relay) Run(ctx context.Context) {
	if len(r.stacks) == 0 || len(r.sinks) == 0 {
		return
	}

	r.ensure()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ensure()
		}
	}
}

// ensure 为每个堆栈和每个订阅者获取采集器
func (r *Relay) ensure() {
	for _, stack := range r.stacks {
		workDir, err := collector.StackDir(r.stacksDir, stack)
		if err != nil {
			r.logger.Error("转发配置中的堆栈名不合法", zap.Error(err))
			continue
		}
		for _, sink := range r.sinks {
			if _, err := r.directory.Acquire(stack, workDir, sink); err != nil {
				if errors.Is(err, collector.ErrDirectoryClosed) {
					return
				}
				r.logger.Warn("获取采集器失败", zap.String("stack", stack), zap.String("sink", sink.ID()), zap.Error(err))
			}
		}
	}
}

// Close 关闭所有常驻订阅者
func (r *Relay) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭%s失败: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}
