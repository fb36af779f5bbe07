// Package interfaces 定义了系统中的核心接口
package interfaces

// ContainerStats 单个容器的规范化资源使用快照
type ContainerStats struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Service     string `json:"service"`
	CPUPercent  string `json:"cpuPercent"`
	MemoryUsage string `json:"memoryUsage"`
}

// Subscriber 定义了统计数据订阅者的接口
//
// 订阅者的生命周期由传输层持有，采集器只保存引用并以 ID 作为键。
type Subscriber interface {
	// ID 返回稳定的订阅者标识
	ID() string

	// Connected 报告订阅者是否仍然在线
	Connected() bool

	// Emit 投递一个命名事件，实现不得阻塞调用方
	Emit(event string, stack string, stats []ContainerStats)
}
