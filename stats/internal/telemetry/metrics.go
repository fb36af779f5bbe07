// Package telemetry 统计服务自身的运行指标
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stackmon"

// 生产者退出原因
const (
	ExitReasonStopped = "stopped"
	ExitReasonExited  = "exited"
	ExitReasonFailed  = "failed"
	ExitReasonLaunch  = "launch_error"
)

// Metrics 采集链路指标
type Metrics struct {
	CollectorsRunning  prometheus.Gauge
	Subscribers        prometheus.Gauge
	ProducerStarts     prometheus.Counter
	ProducerExits      *prometheus.CounterVec
	RecordsDecoded     prometheus.Counter
	DecodeFailures     prometheus.Counter
	BatchesBroadcast   prometheus.Counter
	SubscribersEvicted prometheus.Counter
	BufferOverflows    prometheus.Counter
}

// NewMetrics 创建指标并注册到reg，reg为nil时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CollectorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collectors_running",
			Help:      "Number of collectors with a live producer process.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of subscribers across all collectors.",
		}),
		ProducerStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_starts_total",
			Help:      "Producer processes launched.",
		}),
		ProducerExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_exits_total",
			Help:      "Producer processes that ended, by reason.",
		}, []string{"reason"}),
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Raw stats records decoded successfully.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Raw stats records dropped because they could not be decoded.",
		}),
		BatchesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_broadcast_total",
			Help:      "Deduplicated batches delivered to subscribers.",
		}),
		SubscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_evicted_total",
			Help:      "Disconnected subscribers removed by the sweep.",
		}),
		BufferOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_overflows_total",
			Help:      "Reassembly buffers discarded after exceeding the size bound.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CollectorsRunning,
			m.Subscribers,
			m.ProducerStarts,
			m.ProducerExits,
			m.RecordsDecoded,
			m.DecodeFailures,
			m.BatchesBroadcast,
			m.SubscribersEvicted,
			m.BufferOverflows,
		)
	}
	return m
}
