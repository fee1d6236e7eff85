package collab

import (
	"encoding/binary"
	"math"
)

// little endian primitives for the message catalog.
// strings and byte slices are `u32 length + bytes`, lists are `u32 count + elements`.

type wireWriter struct {
	b []byte
}

func (self *wireWriter) u8(v uint8) {
	self.b = append(self.b, v)
}

func (self *wireWriter) u16(v uint16) {
	self.b = binary.LittleEndian.AppendUint16(self.b, v)
}

func (self *wireWriter) u32(v uint32) {
	self.b = binary.LittleEndian.AppendUint32(self.b, v)
}

func (self *wireWriter) u64(v uint64) {
	self.b = binary.LittleEndian.AppendUint64(self.b, v)
}

func (self *wireWriter) f32(v float32) {
	self.u32(math.Float32bits(v))
}

func (self *wireWriter) boolean(v bool) {
	if v {
		self.u8(1)
	} else {
		self.u8(0)
	}
}

func (self *wireWriter) id(v Id) {
	self.b = append(self.b, v[:]...)
}

func (self *wireWriter) bytes(v []byte) {
	self.u32(uint32(len(v)))
	self.b = append(self.b, v...)
}

func (self *wireWriter) str(v string) {
	self.u32(uint32(len(v)))
	self.b = append(self.b, v...)
}

// the reader records the first error and returns zero values after it,
// so unmarshal code can read a whole record and check `err` once
type wireReader struct {
	b   []byte
	err error
}

func (self *wireReader) take(n int) []byte {
	if self.err != nil {
		return nil
	}
	if n < 0 || len(self.b) < n {
		self.err = ErrTruncatedMessage
		self.b = nil
		return nil
	}
	v := self.b[:n]
	self.b = self.b[n:]
	return v
}

func (self *wireReader) u8() uint8 {
	if v := self.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (self *wireReader) u16() uint16 {
	if v := self.take(2); v != nil {
		return binary.LittleEndian.Uint16(v)
	}
	return 0
}

func (self *wireReader) u32() uint32 {
	if v := self.take(4); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (self *wireReader) u64() uint64 {
	if v := self.take(8); v != nil {
		return binary.LittleEndian.Uint64(v)
	}
	return 0
}

func (self *wireReader) f32() float32 {
	return math.Float32frombits(self.u32())
}

func (self *wireReader) boolean() bool {
	return self.u8() != 0
}

func (self *wireReader) id() Id {
	if v := self.take(16); v != nil {
		return Id(v)
	}
	return Id{}
}

func (self *wireReader) bytes() []byte {
	n := self.u32()
	v := self.take(int(n))
	if self.err != nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (self *wireReader) str() string {
	n := self.u32()
	return string(self.take(int(n)))
}

// reads a list count and rejects counts that cannot fit in the remaining bytes
func (self *wireReader) count(minElementByteCount int) int {
	n := self.u32()
	if self.err != nil {
		return 0
	}
	if minElementByteCount < 1 {
		minElementByteCount = 1
	}
	if uint64(len(self.b))/uint64(minElementByteCount) < uint64(n) {
		self.err = ErrTruncatedMessage
		self.b = nil
		return 0
	}
	return int(n)
}

func (self *wireReader) done() error {
	if self.err != nil {
		return self.err
	}
	if 0 < len(self.b) {
		return ErrTrailingBytes
	}
	return nil
}
