package collector

import (
	"sort"

	"github.com/han-fei/stackmon/stats/internal/models"
)

// Batch 一次重组扫描内按容器ID去重的统计集合，后写入者覆盖先写入者
type Batch struct {
	byID map[string]models.ContainerStats
}

// NewBatch 创建空批次
func NewBatch() *Batch {
	return &Batch{byID: make(map[string]models.ContainerStats)}
}

// Add 加入一条记录
func (b *Batch) Add(stats models.ContainerStats) {
	b.byID[stats.ID] = stats
}

// Len 返回去重后的记录数
func (b *Batch) Len() int {
	return len(b.byID)
}

// Stats 返回按ID排序的记录
func (b *Batch) Stats() []models.ContainerStats {
	out := make([]models.ContainerStats, 0, len(b.byID))
	for _, s := range b.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
