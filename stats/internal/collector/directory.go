package collector

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/han-fei/stackmon/pkg/interfaces"
	"github.com/han-fei/stackmon/stats/internal/models"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
)

// ErrInvalidStackName 堆栈名不合法
var ErrInvalidStackName = errors.New("invalid stack name")

// ErrDirectoryClosed 目录已关闭，不再创建采集器
var ErrDirectoryClosed = errors.New("collector directory closed")

var stackNamePattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// ValidateStackName 校验堆栈名，防止越出堆栈目录
func ValidateStackName(name string) error {
	if !stackNamePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidStackName, name)
	}
	return nil
}

// StackDir 返回堆栈在stacksDir下的工作目录
func StackDir(stacksDir, name string) (string, error) {
	if err := ValidateStackName(name); err != nil {
		return "", err
	}
	return filepath.Join(stacksDir, name), nil
}

// Directory 进程内的采集器目录，每个堆栈名至多一个采集器
type Directory struct {
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu         sync.Mutex
	collectors map[string]*Collector
	closed     bool
}

// NewDirectory 创建采集器目录
func NewDirectory(opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Directory{
		opts:       opts,
		logger:     logger.Named("collector"),
		metrics:    metrics,
		collectors: make(map[string]*Collector),
	}
}

// Get 返回已存在的采集器
func (d *Directory) Get(name string) (*Collector, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collectors[name]
	return c, ok
}

// GetOrCreate 返回已存在的采集器，不存在时创建并登记，不会启动生产者
//
// 目录关闭后返回一个未登记且已关闭的采集器，Join与Start均返回ErrCollectorClosed。
func (d *Directory) GetOrCreate(name, workDir string) *Collector {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.collectors[name]; ok {
		return c
	}
	c := newCollector(name, workDir, d)
	if d.closed {
		c.closed = true
		return c
	}
	d.collectors[name] = c
	d.logger.Debug("创建采集器", zap.String("stack", name), zap.String("work_dir", workDir))
	return c
}

// Acquire 获取采集器、加入订阅者并确保生产者在运行
//
// 采集器恰好在此期间停止时会重新创建一次。
func (d *Directory) Acquire(name, workDir string, sub interfaces.Subscriber) (*Collector, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if d.Closed() {
			return nil, ErrDirectoryClosed
		}
		c := d.GetOrCreate(name, workDir)
		if err := c.Join(sub); err != nil {
			if errors.Is(err, ErrCollectorClosed) {
				d.remove(name, c)
				continue
			}
			return nil, err
		}
		if err := c.Start(); err != nil {
			if errors.Is(err, ErrCollectorClosed) {
				d.remove(name, c)
				continue
			}
			return nil, err
		}
		return c, nil
	}
	if d.Closed() {
		return nil, ErrDirectoryClosed
	}
	return nil, ErrCollectorClosed
}

// List 返回所有采集器的状态，按名字排序
func (d *Directory) List() []models.StackInfo {
	d.mu.Lock()
	collectors := make([]*Collector, 0, len(d.collectors))
	for _, c := range d.collectors {
		collectors = append(collectors, c)
	}
	d.mu.Unlock()

	infos := make([]models.StackInfo, 0, len(collectors))
	for _, c := range collectors {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len 返回采集器数量
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.collectors)
}

// Closed 报告目录是否已关闭
func (d *Directory) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close 停止所有采集器，之后不再创建新的采集器，可重复调用
func (d *Directory) Close() {
	d.mu.Lock()
	// 先标记关闭，快照之后创建的采集器都不会登记
	d.closed = true
	collectors := make([]*Collector, 0, len(d.collectors))
	for _, c := range d.collectors {
		collectors = append(collectors, c)
	}
	d.mu.Unlock()

	for _, c := range collectors {
		c.Stop()
	}
	d.logger.Info("采集器目录已关闭", zap.Int("stopped", len(collectors)))
}

// remove 仅当登记的实例就是c时才移除
func (d *Directory) remove(name string, c *Collector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.collectors[name] == c {
		delete(d.collectors, name)
	}
}
