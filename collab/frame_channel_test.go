package collab

import (
	"bytes"
	"errors"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

func testFrameMessages() [][]byte {
	r := mathrand.New(mathrand.NewSource(0))

	randomBytes := func(n int) []byte {
		b := make([]byte, n)
		r.Read(b)
		return b
	}

	repeated := bytes.Repeat([]byte("pattern row 04 C-5 01 v64 ... "), 64)

	return [][]byte{
		[]byte("hello"),
		repeated,
		repeated,
		{},
		randomBytes(1),
		randomBytes(1024),
		// the decompressor window is 32KiB
		bytes.Repeat([]byte{0}, 32*1024),
		randomBytes(32 * 1024),
		randomBytes(32*1024 + 1),
		randomBytes(256 * 1024),
		bytes.Repeat([]byte{7}, 1024*1024),
		repeated,
		[]byte("bye"),
	}
}

func TestFramedChannelRoundTrip(t *testing.T) {
	sender := NewFramedChannelWithDefaults()
	receiver := NewFramedChannelWithDefaults()

	for _, message := range testFrameMessages() {
		framed, err := sender.Write(message)
		assert.Equal(t, err, nil)

		header, err := ParseFrameHeader(framed)
		assert.Equal(t, err, nil)
		assert.Equal(t, int(header.OriginalLength), len(message))
		assert.Equal(t, int(header.CompressedLength), len(framed)-FrameHeaderByteCount)

		out, err := receiver.Read(header, framed[FrameHeaderByteCount:])
		assert.Equal(t, err, nil)
		assert.Equal(t, bytes.Equal(out, message), true)
	}
}

func TestFramedChannelDictionaryCarriesOver(t *testing.T) {
	sender := NewFramedChannelWithDefaults()

	r := mathrand.New(mathrand.NewSource(1))
	message := make([]byte, 4096)
	r.Read(message)

	first, err := sender.Write(message)
	assert.Equal(t, err, nil)
	second, err := sender.Write(message)
	assert.Equal(t, err, nil)

	// the second copy is a back reference into the first
	assert.Equal(t, len(second) < len(first)/4, true)
}

func TestFramedChannelReadFrame(t *testing.T) {
	sender := NewFramedChannelWithDefaults()
	receiver := NewFramedChannelWithDefaults()

	messages := testFrameMessages()

	stream := &bytes.Buffer{}
	for _, message := range messages {
		framed, err := sender.Write(message)
		assert.Equal(t, err, nil)
		stream.Write(framed)
	}

	for _, message := range messages {
		out, err := receiver.ReadFrame(stream)
		assert.Equal(t, err, nil)
		assert.Equal(t, bytes.Equal(out, message), true)
	}

	_, err := receiver.ReadFrame(stream)
	assert.Equal(t, IsTransportError(err), true)
}

func TestFramedChannelMessageTooLarge(t *testing.T) {
	settings := DefaultFramedChannelSettings()
	settings.MaxMessageSize = 16

	sender, err := NewFramedChannel(settings)
	assert.Equal(t, err, nil)
	receiver, err := NewFramedChannel(settings)
	assert.Equal(t, err, nil)

	_, err = sender.Write(make([]byte, 17))
	assert.Equal(t, errors.Is(err, ErrMessageTooLarge), true)

	framed, err := sender.Write(make([]byte, 16))
	assert.Equal(t, err, nil)
	header, _ := ParseFrameHeader(framed)
	_, err = receiver.Read(header, framed[FrameHeaderByteCount:])
	assert.Equal(t, err, nil)

	_, err = receiver.Read(FrameHeader{CompressedLength: 4, OriginalLength: 17}, make([]byte, 4))
	assert.Equal(t, IsProtocolError(err), true)
	assert.Equal(t, errors.Is(err, ErrMessageTooLarge), true)
}

func TestFramedChannelCorrupt(t *testing.T) {
	receiver := NewFramedChannelWithDefaults()

	// final block with the reserved block type
	compressed := bytes.Repeat([]byte{0xff}, 8)
	_, err := receiver.Read(FrameHeader{CompressedLength: 8, OriginalLength: 8}, compressed)
	assert.Equal(t, IsProtocolError(err), true)

	// the compressed length must match the header
	receiver = NewFramedChannelWithDefaults()
	_, err = receiver.Read(FrameHeader{CompressedLength: 8, OriginalLength: 8}, compressed[:4])
	assert.Equal(t, IsProtocolError(err), true)
}

func TestFramedChannelMessages(t *testing.T) {
	sender := NewFramedChannelWithDefaults()
	receiver := NewFramedChannelWithDefaults()

	framed, err := sender.WriteMessage(&ChatMessage{ConnectionId: NewId(), Text: "hi"})
	assert.Equal(t, err, nil)
	header, _ := ParseFrameHeader(framed)
	message, err := receiver.ReadMessage(header, framed[FrameHeaderByteCount:])
	assert.Equal(t, err, nil)
	_, ok := message.(*ChatMessage)
	assert.Equal(t, ok, true)

	// an unknown tag is a protocol error
	framed, err = sender.Write([]byte{0xff, 0xff, 0, 0})
	assert.Equal(t, err, nil)
	header, _ = ParseFrameHeader(framed)
	_, err = receiver.ReadMessage(header, framed[FrameHeaderByteCount:])
	assert.Equal(t, IsProtocolError(err), true)
	assert.Equal(t, errors.Is(err, ErrUnknownMessageKind), true)
}
