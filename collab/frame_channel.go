package collab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
)

// a framed message is `{compressedLength u32, originalLength u32}` followed by
// `compressedLength` bytes of a raw DEFLATE stream.
// The stream is continuous per direction: each message is sync flushed, never reset,
// so the dictionary carries over and similar messages compress better over time.

const FrameHeaderByteCount = 8

type FrameHeader struct {
	CompressedLength uint32
	OriginalLength   uint32
}

func (self FrameHeader) Bytes() []byte {
	b := make([]byte, FrameHeaderByteCount)
	binary.LittleEndian.PutUint32(b[0:4], self.CompressedLength)
	binary.LittleEndian.PutUint32(b[4:8], self.OriginalLength)
	return b
}

func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderByteCount {
		return FrameHeader{}, ErrTruncatedMessage
	}
	return FrameHeader{
		CompressedLength: binary.LittleEndian.Uint32(b[0:4]),
		OriginalLength:   binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func DefaultFramedChannelSettings() *FramedChannelSettings {
	return &FramedChannelSettings{
		CompressionLevel: flate.DefaultCompression,
		MaxMessageSize:   mib(64),
	}
}

type FramedChannelSettings struct {
	CompressionLevel int
	// bounded by the u32 header fields
	MaxMessageSize ByteCount
}

func (self *FramedChannelSettings) maxMessageSize() ByteCount {
	if self.MaxMessageSize <= 0 || math.MaxUint32 < self.MaxMessageSize {
		return math.MaxUint32
	}
	return self.MaxMessageSize
}

// worst case DEFLATE expansion of stored blocks plus the sync flush marker
func (self *FramedChannelSettings) maxCompressedSize() ByteCount {
	n := self.maxMessageSize()
	return min(n+5*(n/16383+1)+64, math.MaxUint32)
}

// The send side (`Write`) and the receive side (`Read`) have independent state.
// Each side must be used by one goroutine at a time.
// A framed channel is owned by exactly one connection.
type FramedChannel struct {
	settings *FramedChannelSettings

	compressedBuffer *bytes.Buffer
	compressor       *flate.Writer

	// compressed input not yet consumed by the decompressor
	inBuffer     *bytes.Buffer
	decompressor io.ReadCloser
}

func NewFramedChannelWithDefaults() *FramedChannel {
	framedChannel, err := NewFramedChannel(DefaultFramedChannelSettings())
	if err != nil {
		panic(err)
	}
	return framedChannel
}

func NewFramedChannel(settings *FramedChannelSettings) (*FramedChannel, error) {
	compressedBuffer := &bytes.Buffer{}
	compressor, err := flate.NewWriter(compressedBuffer, settings.CompressionLevel)
	if err != nil {
		return nil, err
	}
	// `bytes.Buffer` is a byte reader, so the decompressor never reads past the flush point
	inBuffer := &bytes.Buffer{}
	return &FramedChannel{
		settings:         settings,
		compressedBuffer: compressedBuffer,
		compressor:       compressor,
		inBuffer:         inBuffer,
		decompressor:     flate.NewReader(inBuffer),
	}, nil
}

// returns the header followed by the compressed payload, ready to send.
// An error leaves the compressor state undefined and the connection must be aborted.
func (self *FramedChannel) Write(message []byte) ([]byte, error) {
	if self.settings.maxMessageSize() < ByteCount(len(message)) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
	}

	self.compressedBuffer.Reset()
	self.compressedBuffer.Write(make([]byte, FrameHeaderByteCount))
	if _, err := self.compressor.Write(message); err != nil {
		return nil, err
	}
	if err := self.compressor.Flush(); err != nil {
		return nil, err
	}

	compressedLength := self.compressedBuffer.Len() - FrameHeaderByteCount
	if math.MaxUint32 < int64(compressedLength) {
		return nil, fmt.Errorf("%w: %d compressed bytes", ErrMessageTooLarge, compressedLength)
	}

	framed := make([]byte, self.compressedBuffer.Len())
	copy(framed, self.compressedBuffer.Bytes())
	binary.LittleEndian.PutUint32(framed[0:4], uint32(compressedLength))
	binary.LittleEndian.PutUint32(framed[4:8], uint32(len(message)))
	return framed, nil
}

// The caller must have read exactly `header.CompressedLength` bytes.
// Errors are protocol errors and the connection must be closed.
func (self *FramedChannel) Read(header FrameHeader, compressed []byte) ([]byte, error) {
	if err := self.checkHeader(header); err != nil {
		return nil, err
	}
	if len(compressed) != int(header.CompressedLength) {
		return nil, &ProtocolError{Err: ErrTruncatedMessage}
	}

	self.inBuffer.Write(compressed)
	message := make([]byte, header.OriginalLength)
	if _, err := io.ReadFull(self.decompressor, message); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("decompress: %w", err)}
	}
	// the flush marker of this message may remain buffered when the window filled exactly
	// on the last byte. The next read consumes it.
	return message, nil
}

func (self *FramedChannel) checkHeader(header FrameHeader) error {
	if self.settings.maxMessageSize() < ByteCount(header.OriginalLength) {
		return &ProtocolError{Err: fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, header.OriginalLength)}
	}
	if self.settings.maxCompressedSize() < ByteCount(header.CompressedLength) {
		return &ProtocolError{Err: fmt.Errorf("%w: %d compressed bytes", ErrMessageTooLarge, header.CompressedLength)}
	}
	return nil
}

// reads one framed message from a stream
func (self *FramedChannel) ReadFrame(r io.Reader) ([]byte, error) {
	headerBytes := make([]byte, FrameHeaderByteCount)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, &TransportError{Err: err}
	}
	header, err := ParseFrameHeader(headerBytes)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	if err := self.checkHeader(header); err != nil {
		return nil, err
	}
	compressed := make([]byte, header.CompressedLength)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, &TransportError{Err: err}
	}
	return self.Read(header, compressed)
}

func (self *FramedChannel) WriteMessage(message Message) ([]byte, error) {
	b, err := EncodeMessage(message)
	if err != nil {
		return nil, err
	}
	return self.Write(b)
}

func (self *FramedChannel) ReadMessage(header FrameHeader, compressed []byte) (Message, error) {
	b, err := self.Read(header, compressed)
	if err != nil {
		return nil, err
	}
	return decodeFramedMessage(b)
}

func (self *FramedChannel) ReadFrameMessage(r io.Reader) (Message, error) {
	b, err := self.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return decodeFramedMessage(b)
}

func decodeFramedMessage(b []byte) (Message, error) {
	message, err := DecodeMessage(b)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return message, nil
}
