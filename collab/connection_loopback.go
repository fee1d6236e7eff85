package collab

import (
	"context"
	"sync"
)

// One end of an in-process connection pair.
// `Send` frames through this end's channel and hands the bytes to the peer, which decodes and
// dispatches on the sending goroutine. A send made from inside a receive callback is queued and
// delivered in order once the outer dispatch returns.
type LoopbackConnection struct {
	*connectionBase

	framedChannel *FramedChannel
	// orders framing and delivery to the peer
	sendLock sync.Mutex

	peer    *LoopbackConnection
	inbound *dispatchQueue[Message]
}

func NewLoopbackPairWithDefaults(
	ctx context.Context,
	a ConnectionCallbacks,
	b ConnectionCallbacks,
) (*LoopbackConnection, *LoopbackConnection, error) {
	return NewLoopbackPair(ctx, DefaultConnectionSettings(), a, b)
}

func NewLoopbackPair(
	ctx context.Context,
	settings *ConnectionSettings,
	a ConnectionCallbacks,
	b ConnectionCallbacks,
) (*LoopbackConnection, *LoopbackConnection, error) {
	connA, err := newLoopbackConnection(ctx, settings, a)
	if err != nil {
		return nil, nil, err
	}
	connB, err := newLoopbackConnection(ctx, settings, b)
	if err != nil {
		return nil, nil, err
	}
	connA.peer = connB
	connB.peer = connA
	connA.setOpen()
	connB.setOpen()
	return connA, connB, nil
}

func newLoopbackConnection(ctx context.Context, settings *ConnectionSettings, callbacks ConnectionCallbacks) (*LoopbackConnection, error) {
	framedChannel, err := NewFramedChannel(settings.FramedChannelSettings)
	if err != nil {
		return nil, err
	}
	conn := &LoopbackConnection{
		connectionBase: newConnectionBase(ctx, settings, callbacks),
		framedChannel:  framedChannel,
	}
	conn.inbound = newDispatchQueue(func(message Message) {
		conn.receiveMessage(conn, message)
	})
	return conn, nil
}

func (self *LoopbackConnection) RemoteAddress() string {
	return ""
}

func (self *LoopbackConnection) Peer() *LoopbackConnection {
	return self.peer
}

func (self *LoopbackConnection) Send(message Message) error {
	if !self.isOpen() {
		return ErrConnectionClosed
	}

	err := func() error {
		self.sendLock.Lock()
		defer self.sendLock.Unlock()

		framed, err := self.framedChannel.WriteMessage(message)
		if err != nil {
			return err
		}
		return self.peer.deliver(framed)
	}()
	if err != nil {
		self.closeWithError(err)
		return err
	}

	self.peer.inbound.Drain()
	return nil
}

func (self *LoopbackConnection) deliver(framed []byte) error {
	if !self.isOpen() {
		return ErrConnectionClosed
	}
	header, err := ParseFrameHeader(framed)
	if err != nil {
		return &ProtocolError{Err: err}
	}
	message, err := self.framedChannel.ReadMessage(header, framed[FrameHeaderByteCount:])
	if err != nil {
		return err
	}
	if !self.inbound.Add(message) {
		return ErrConnectionClosed
	}
	return nil
}

func (self *LoopbackConnection) SendWithResult(ctx context.Context, message Message) (Message, error) {
	return sendWithResult(ctx, self.roundTrips, self.Send, message, self.settings.RoundTripTimeout)
}

// closes both ends
func (self *LoopbackConnection) Close() {
	self.closeWithError(nil)
}

func (self *LoopbackConnection) closeWithError(err error) {
	if self.connectionBase.closeWithError(self, err, self.inbound.Close) {
		peerErr := err
		if peerErr == nil {
			peerErr = ErrConnectionClosed
		}
		self.peer.closeWithError(peerErr)
	}
}
