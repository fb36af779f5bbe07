// Package collector 管理每个堆栈唯一的统计采集进程，并把去重后的快照广播给订阅者
package collector

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/han-fei/stackmon/internal/utils"
	"github.com/han-fei/stackmon/pkg/interfaces"
	"github.com/han-fei/stackmon/stats/internal/config"
	"github.com/han-fei/stackmon/stats/internal/decoder"
	"github.com/han-fei/stackmon/stats/internal/models"
	"github.com/han-fei/stackmon/stats/internal/stream"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
)

// StatsEvent 统计广播的事件名
const StatsEvent = "stackStats"

// ErrCollectorClosed 采集器已停止并从目录中移除，需要重新获取
var ErrCollectorClosed = errors.New("collector closed")

// Options 采集器选项
type Options struct {
	Command        string
	Args           []string
	SweepInterval  time.Duration
	IdleInterval   time.Duration
	MaxBufferBytes int
	StopTimeout    time.Duration
}

// OptionsFromConfig 从配置构建选项
func OptionsFromConfig(cfg config.CollectorConfig) Options {
	return Options{
		Command:        cfg.Command,
		Args:           cfg.Args,
		SweepInterval:  cfg.SweepInterval,
		IdleInterval:   cfg.IdleInterval,
		MaxBufferBytes: cfg.MaxBufferBytes,
		StopTimeout:    cfg.StopTimeout,
	}
}

// producer 一次运行的生产者进程
type producer struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Collector 单个堆栈的统计采集器
//
// 状态: Stopped -> Running -> Stopped。停止后的采集器不可再启动，
// Join与Start返回ErrCollectorClosed。
type Collector struct {
	name    string
	workDir string
	opts    Options
	dir     *Directory
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	proc        *producer
	reassembler *stream.Reassembler
	subscribers *SubscriberSet
	stopSweep   chan struct{}
	closed      bool
}

func newCollector(name, workDir string, dir *Directory) *Collector {
	return &Collector{
		name:        name,
		workDir:     workDir,
		opts:        dir.opts,
		dir:         dir,
		logger:      dir.logger.With(zap.String("stack", name)),
		metrics:     dir.metrics,
		reassembler: stream.NewReassembler(dir.opts.MaxBufferBytes),
		subscribers: NewSubscriberSet(),
	}
}

// Name 返回堆栈名
func (c *Collector) Name() string {
	return c.name
}

// WorkDir 返回生产者的工作目录
func (c *Collector) WorkDir() string {
	return c.workDir
}

// Running 报告生产者进程是否在运行
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil
}

// SubscriberCount 返回订阅者数量
func (c *Collector) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers.Len()
}

// Info 返回状态摘要
func (c *Collector) Info() models.StackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := models.StackInfo{
		Name:        c.name,
		WorkDir:     c.workDir,
		Running:     c.proc != nil,
		Subscribers: c.subscribers.Len(),
	}
	if c.proc != nil && c.proc.cmd.Process != nil {
		info.PID = c.proc.cmd.Process.Pid
	}
	return info
}

// Join 加入订阅者，同ID的订阅者会被替换
func (c *Collector) Join(sub interfaces.Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}
	if c.subscribers.Join(sub) {
		c.metrics.Subscribers.Inc()
	}
	c.logger.Debug("订阅者加入", zap.String("subscriber", sub.ID()), zap.Int("subscribers", c.subscribers.Len()))
	return nil
}

// Leave 移除订阅者，不存在时无操作
func (c *Collector) Leave(sub interfaces.Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribers.Leave(sub) {
		c.metrics.Subscribers.Dec()
		c.logger.Debug("订阅者离开", zap.String("subscriber", sub.ID()), zap.Int("subscribers", c.subscribers.Len()))
	}
}

// Start 启动生产者进程，已在运行时无操作
//
// 启动失败时采集器被立即清理，返回错误。
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}
	if c.proc != nil {
		return nil
	}

	// 创建生产者进程
	cmd := exec.Command(c.opts.Command, c.opts.Args...)
	cmd.Dir = c.workDir
	cmd.WaitDelay = c.opts.StopTimeout

	// 标准输出交给重组器，标准错误按行记录
	proc := &producer{cmd: cmd, done: make(chan struct{})}
	stderr := &lineLogger{logger: c.logger, max: c.opts.MaxBufferBytes}
	cmd.Stdout = &chunkWriter{collector: c, proc: proc}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		c.logger.Error("启动统计采集进程失败",
			zap.String("command", c.opts.Command),
			zap.String("work_dir", c.workDir),
			zap.Error(err))
		c.metrics.ProducerExits.WithLabelValues(telemetry.ExitReasonLaunch).Inc()
		c.cleanupLocked()
		return fmt.Errorf("启动统计采集进程失败: %w", err)
	}

	// 记录运行状态
	stop := make(chan struct{})
	c.proc = proc
	c.stopSweep = stop
	c.metrics.ProducerStarts.Inc()
	c.metrics.CollectorsRunning.Inc()
	c.logger.Info("统计采集进程已启动", zap.Int("pid", cmd.Process.Pid))

	// 启动退出等待与周期检查协程
	go utils.WrapPanic(c.logger, func() { c.wait(proc, stderr) })()
	go utils.WrapPanic(c.logger, func() { c.sweepLoop(stop) })()
	return nil
}

// Stop 向生产者发送SIGTERM并清理，可重复调用
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Collector) stopLocked() {
	if proc := c.proc; proc != nil {
		if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			c.logger.Debug("发送终止信号失败", zap.Error(err))
		}
		go c.killAfter(proc)
		c.metrics.ProducerExits.WithLabelValues(telemetry.ExitReasonStopped).Inc()
		c.logger.Info("统计采集进程已停止")
	}
	c.cleanupLocked()
}

// cleanupLocked 清理所有本地状态并从目录移除
func (c *Collector) cleanupLocked() {
	if c.stopSweep != nil {
		close(c.stopSweep)
		c.stopSweep = nil
	}
	if n := c.subscribers.Clear(); n > 0 {
		c.metrics.Subscribers.Sub(float64(n))
	}
	c.reassembler.Reset()
	if c.proc != nil {
		c.proc = nil
		c.metrics.CollectorsRunning.Dec()
	}
	c.closed = true
	c.dir.remove(c.name, c)
}

// killAfter SIGTERM未生效时强制结束进程
func (c *Collector) killAfter(proc *producer) {
	if c.opts.StopTimeout <= 0 {
		return
	}
	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-proc.done:
	case <-timer.C:
		c.logger.Warn("统计采集进程未响应SIGTERM，强制结束")
		_ = proc.cmd.Process.Kill()
	}
}

// wait 等待生产者退出，退出即视为停止
func (c *Collector) wait(proc *producer, stderr *lineLogger) {
	err := proc.cmd.Wait()
	stderr.Flush()
	close(proc.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != proc {
		return
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		c.logger.Info("统计采集进程已退出")
		c.metrics.ProducerExits.WithLabelValues(telemetry.ExitReasonExited).Inc()
	case errors.As(err, &exitErr):
		c.logger.Warn("统计采集进程异常退出", zap.Int("exit_code", exitErr.ExitCode()), zap.Error(err))
		c.metrics.ProducerExits.WithLabelValues(telemetry.ExitReasonFailed).Inc()
	default:
		c.logger.Warn("等待统计采集进程失败", zap.Error(err))
		c.metrics.ProducerExits.WithLabelValues(telemetry.ExitReasonFailed).Inc()
	}
	c.cleanupLocked()
}

// handleChunk 一次重组扫描：解码、去重后广播
func (c *Collector) handleChunk(proc *producer, chunk []byte) {
	c.mu.Lock()
	// 已被替换或停止的生产者的输出直接丢弃
	if c.proc != proc {
		c.mu.Unlock()
		return
	}

	records := c.reassembler.Feed(chunk)
	if c.reassembler.Overflowed() {
		c.metrics.BufferOverflows.Inc()
		c.logger.Warn("重组缓冲区超出上限，已丢弃", zap.Int("max_buffer_bytes", c.opts.MaxBufferBytes))
	}

	// 解码并去重，同一批次内后到的记录覆盖先到的
	batch := NewBatch()
	for _, record := range records {
		stats, err := decoder.Decode(record)
		if err != nil {
			c.metrics.DecodeFailures.Inc()
			c.logger.Debug("丢弃无法解析的记录", zap.ByteString("record", record), zap.Error(err))
			continue
		}
		c.metrics.RecordsDecoded.Inc()
		batch.Add(stats)
	}

	// 空批次不广播
	if batch.Len() == 0 {
		c.mu.Unlock()
		return
	}
	subs := c.subscribers.Snapshot()
	c.mu.Unlock()

	// 在锁外向订阅者快照广播
	stats := batch.Stats()
	for _, sub := range subs {
		sub.Emit(StatsEvent, c.name, stats)
	}
	c.metrics.BatchesBroadcast.Inc()
}

// sweepLoop 运行断线清理与空闲检查两个周期任务
func (c *Collector) sweepLoop(stop <-chan struct{}) {
	sweep := time.NewTicker(c.opts.SweepInterval)
	defer sweep.Stop()
	idle := time.NewTicker(c.opts.IdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-stop:
			return
		case <-sweep.C:
			c.sweepDisconnected()
		case <-idle.C:
			c.checkIdle()
		}
	}
}

// sweepDisconnected 移除已断线的订阅者
func (c *Collector) sweepDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscribers.Sweep() {
		c.metrics.Subscribers.Dec()
		c.metrics.SubscribersEvicted.Inc()
		c.logger.Info("移除已断线的订阅者", zap.String("subscriber", sub.ID()))
	}
}

// checkIdle 没有订阅者时停止采集器
func (c *Collector) checkIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.subscribers.Len() > 0 {
		return
	}
	c.logger.Info("没有订阅者，停止统计采集")
	c.stopLocked()
}
