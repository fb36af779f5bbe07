package interfaces

import "context"

// Publisher 定义了外部消息系统的发布接口
type Publisher interface {
	// Publish 发布一条已编码的堆栈统计消息
	Publish(ctx context.Context, stack string, payload []byte) error

	// Close 关闭连接
	Close() error
}
