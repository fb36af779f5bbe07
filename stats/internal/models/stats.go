package models

import "github.com/han-fei/stackmon/pkg/interfaces"

// ContainerStats 使用pkg/interfaces中的规范化记录
type ContainerStats = interfaces.ContainerStats

// RawStats docker compose stats --format json 输出的单条原始记录
//
// 生产者不保证字段类型，这里全部按字符串解析；类型不符时解码失败。
type RawStats struct {
	Container string `json:"Container"`
	Name      string `json:"Name"`
	CPUPerc   string `json:"CPUPerc"`
	MemUsage  string `json:"MemUsage"`
	MemPerc   string `json:"MemPerc"`
	BlockIO   string `json:"BlockIO"`
	NetIO     string `json:"NetIO"`
	PIDs      string `json:"PIDs"`
	ID        string `json:"ID"`
}

// StackInfo 采集器的运行状态摘要
type StackInfo struct {
	Name        string `json:"name"`
	WorkDir     string `json:"work_dir"`
	Running     bool   `json:"running"`
	Subscribers int    `json:"subscribers"`
	PID         int    `json:"pid,omitempty"`
}

// StatsMessage 推送给订阅者的统计消息
type StatsMessage struct {
	Type string         `json:"type"`
	Data StatsEventData `json:"data"`
}

// StatsEventData 统计消息的载荷
type StatsEventData struct {
	StackName string           `json:"stack_name"`
	Stats     []ContainerStats `json:"stats"`
}
