package binstore

import (
	"encoding/binary"
	"io"
	"math"
)

// writer appends little-endian values to a growing buffer.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) i8(v int8)    { w.buf = append(w.buf, byte(v)) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) i16(v int16)  { w.u16(uint16(v)) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

// str writes a 7-bit varint byte length followed by the ASCII bytes of s.
// Runes outside ASCII are written as '?'.
func (w *writer) str(s string) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0x7F {
			r = '?'
		}
		b = append(b, byte(r))
	}
	w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) len() int { return len(w.buf) }

// reader consumes little-endian values. The first error sticks and every
// later read returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte, off int) *reader {
	r := &reader{buf: buf, off: off}
	if off < 0 || off > len(buf) {
		r.err = io.ErrUnexpectedEOF
	}
	return r
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) i8() int8 { return int8(r.u8()) }

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) i16() int16 { return int16(r.u16()) }

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	n, size := binary.Uvarint(r.buf[r.off:])
	if size <= 0 || n > uint64(len(r.buf)) {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	r.off += size
	return string(r.take(int(n)))
}
