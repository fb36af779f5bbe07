package collector

import (
	"bytes"

	"go.uber.org/zap"
)

// chunkWriter 将生产者标准输出交给采集器做重组
type chunkWriter struct {
	collector *Collector
	proc      *producer
}

// Write 总是吞下全部数据，避免os/exec中止拷贝
func (w *chunkWriter) Write(p []byte) (int, error) {
	w.collector.handleChunk(w.proc, p)
	return len(p), nil
}

// lineLogger 按行记录生产者的诊断输出
type lineLogger struct {
	logger *zap.Logger
	max    int // 半行缓冲上限，0表示不限制
	buf    []byte
}

// Write 缓冲不完整的行直到换行到达
//
// 半行超过max时截断输出并清空缓冲。
func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		l.log(l.buf[:idx])
		l.buf = l.buf[idx+1:]
	}
	if l.max > 0 && len(l.buf) > l.max {
		l.log(l.buf[:l.max])
		l.buf = nil
	}
	return len(p), nil
}

// Flush 输出剩余的半行
func (l *lineLogger) Flush() {
	if len(l.buf) > 0 {
		l.log(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) log(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	l.logger.Debug("统计进程诊断输出", zap.ByteString("line", line))
}
