package collector

import (
	"github.com/han-fei/stackmon/pkg/interfaces"
)

// SubscriberSet 单个采集器的订阅者集合，以订阅者ID为键
//
// 非并发安全，由Collector的锁保护。
type SubscriberSet struct {
	entries map[string]interfaces.Subscriber
}

// NewSubscriberSet 创建订阅者集合
func NewSubscriberSet() *SubscriberSet {
	return &SubscriberSet{entries: make(map[string]interfaces.Subscriber)}
}

// Join 加入或替换订阅者，返回是否为新ID
func (s *SubscriberSet) Join(sub interfaces.Subscriber) bool {
	_, exists := s.entries[sub.ID()]
	s.entries[sub.ID()] = sub
	return !exists
}

// Leave 移除订阅者，返回是否确实移除
func (s *SubscriberSet) Leave(sub interfaces.Subscriber) bool {
	if _, ok := s.entries[sub.ID()]; !ok {
		return false
	}
	delete(s.entries, sub.ID())
	return true
}

// Sweep 移除并返回所有已断线的订阅者
func (s *SubscriberSet) Sweep() []interfaces.Subscriber {
	var evicted []interfaces.Subscriber
	for id, sub := range s.entries {
		if !sub.Connected() {
			delete(s.entries, id)
			evicted = append(evicted, sub)
		}
	}
	return evicted
}

// Snapshot 返回当前订阅者的拷贝
func (s *SubscriberSet) Snapshot() []interfaces.Subscriber {
	out := make([]interfaces.Subscriber, 0, len(s.entries))
	for _, sub := range s.entries {
		out = append(out, sub)
	}
	return out
}

// Len 返回订阅者数量
func (s *SubscriberSet) Len() int {
	return len(s.entries)
}

// Clear 清空集合，返回清除前的数量
func (s *SubscriberSet) Clear() int {
	n := len(s.entries)
	s.entries = make(map[string]interfaces.Subscriber)
	return n
}
