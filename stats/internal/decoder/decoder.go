// Package decoder 将生产者输出的原始记录解析为规范化的容器统计
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/han-fei/stackmon/stats/internal/models"
)

const (
	// DefaultCPUPercent CPUPerc缺失时的默认值
	DefaultCPUPercent = "0.00%"
	// DefaultMemory 内存用量或上限缺失时的默认值
	DefaultMemory = "0B"

	memorySeparator = " / "
)

// ErrMalformedRecord 记录不是单个合法的JSON对象
var ErrMalformedRecord = errors.New("malformed stats record")

// Decode 解析一条原始记录
func Decode(record []byte) (models.ContainerStats, error) {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.ContainerStats{}, fmt.Errorf("%w: not an object", ErrMalformedRecord)
	}

	var raw models.RawStats
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return models.ContainerStats{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	return Normalize(raw), nil
}

// Normalize 从原始字段推导规范化字段
func Normalize(raw models.RawStats) models.ContainerStats {
	name := raw.Name
	if name == "" {
		name = raw.Container
	}

	cpu := raw.CPUPerc
	if cpu == "" {
		cpu = DefaultCPUPercent
	}

	return models.ContainerStats{
		ID:          raw.Container,
		Name:        name,
		Service:     ServiceName(name),
		CPUPercent:  cpu,
		MemoryUsage: MemoryUsage(raw.MemUsage),
	}
}

// ServiceName 按 stack-service-index 约定提取服务名
//
// 不符合约定的名字原样返回。
func ServiceName(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return name
	}
	return strings.Join(parts[1:len(parts)-1], "-")
}

// MemoryUsage 将 "<used> / <limit>" 重新组装，缺失部分补默认值
func MemoryUsage(usage string) string {
	used, limit := DefaultMemory, DefaultMemory
	if usage != "" {
		parts := strings.Split(usage, memorySeparator)
		if parts[0] != "" {
			used = parts[0]
		}
		if len(parts) > 1 && parts[1] != "" {
			limit = parts[1]
		}
	}
	return used + memorySeparator + limit
}
