// Package stream 将生产者的字节流重组为以花括号配平分隔的完整记录
package stream

// Reassembler 记录重组器
//
// 每次Feed对缓冲区做一次完整扫描，尾部不完整的记录保留到下一次。
// Reassembler 不是并发安全的，由调用方加锁。
type Reassembler struct {
	buf        []byte
	maxBuffer  int
	overflowed bool
}

// NewReassembler 创建重组器，maxBuffer<=0 表示不限制缓冲区大小
func NewReassembler(maxBuffer int) *Reassembler {
	return &Reassembler{maxBuffer: maxBuffer}
}

// Feed 追加一个数据块并返回本次扫描得到的完整记录
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	r.overflowed = false
	if len(chunk) == 0 {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	var (
		records  [][]byte
		depth    int
		start    int
		consumed = -1
	)
	for i, b := range r.buf {
		switch b {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			// 深度为0时的多余右括号属于垃圾数据，忽略
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				record := make([]byte, i+1-start)
				copy(record, r.buf[start:i+1])
				records = append(records, record)
				consumed = i
			}
		}
	}

	if consumed >= 0 {
		r.buf = append(r.buf[:0], r.buf[consumed+1:]...)
	}

	if r.maxBuffer > 0 && len(r.buf) > r.maxBuffer {
		r.buf = r.buf[:0]
		r.overflowed = true
	}

	return records
}

// Overflowed 报告上一次Feed是否因超出上限而丢弃了缓冲区
func (r *Reassembler) Overflowed() bool {
	return r.overflowed
}

// Buffered 返回尚未组成完整记录的字节数
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset 清空缓冲区
func (r *Reassembler) Reset() {
	r.buf = nil
	r.overflowed = false
}
