package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/han-fei/stackmon/stats/internal/config"
)

// RedisPublisher Redis发布者，每个堆栈一个频道
type RedisPublisher struct {
	client        redis.UniversalClient
	channelPrefix string
}

// NewRedisPublisher 创建Redis发布者并测试连接
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	return newRedisPublisher(client, cfg.ChannelPrefix), nil
}

func newRedisPublisher(client redis.UniversalClient, channelPrefix string) *RedisPublisher {
	return &RedisPublisher{client: client, channelPrefix: channelPrefix}
}

// Channel 返回堆栈对应的频道名
func (p *RedisPublisher) Channel(stack string) string {
	return p.channelPrefix + stack
}

// Publish 发布到堆栈频道
func (p *RedisPublisher) Publish(ctx context.Context, stack string, payload []byte) error {
	return p.client.Publish(ctx, p.Channel(stack), payload).Err()
}

// Close 关闭Redis客户端
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
