package collab

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
)

// a bidirectional byte stream with deadlines. `net.Conn` and the websocket adapter satisfy it.
type stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// A connection over a network stream.
// `Send` frames under the send lock and appends to the send queue. One writer goroutine drains the
// queue with chunked writes, and one reader goroutine reads frames and dispatches them in order.
type NetConnection struct {
	*connectionBase

	stream        stream
	remoteAddress string

	framedChannel *FramedChannel
	// orders framing with queue sequence numbers
	sendLock  sync.Mutex
	sendQueue *sendQueue
}

func DialConnectionWithDefaults(ctx context.Context, address string, callbacks ConnectionCallbacks) (*NetConnection, error) {
	return DialConnection(ctx, address, DefaultConnectionSettings(), callbacks)
}

func DialConnection(
	ctx context.Context,
	address string,
	settings *ConnectionSettings,
	callbacks ConnectionCallbacks,
) (*NetConnection, error) {
	dialer := &net.Dialer{
		Timeout: settings.ConnectTimeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return NewNetConnection(ctx, conn, settings, callbacks)
}

func NewNetConnection(
	ctx context.Context,
	conn net.Conn,
	settings *ConnectionSettings,
	callbacks ConnectionCallbacks,
) (*NetConnection, error) {
	return newNetConnection(ctx, conn, conn.RemoteAddr().String(), settings, callbacks)
}

func newNetConnection(
	ctx context.Context,
	stream stream,
	remoteAddress string,
	settings *ConnectionSettings,
	callbacks ConnectionCallbacks,
) (*NetConnection, error) {
	framedChannel, err := NewFramedChannel(settings.FramedChannelSettings)
	if err != nil {
		stream.Close()
		return nil, err
	}
	conn := &NetConnection{
		connectionBase: newConnectionBase(ctx, settings, callbacks),
		stream:         stream,
		remoteAddress:  remoteAddress,
		framedChannel:  framedChannel,
		sendQueue:      newSendQueue(settings.MaxSendQueueByteCount),
	}
	conn.setOpen()
	glog.V(1).Infof("[c]%s open %s\n", conn.id, remoteAddress)
	go HandleError(conn.runWriter, conn.Close)
	go HandleError(conn.runReader, conn.Close)
	return conn, nil
}

func (self *NetConnection) RemoteAddress() string {
	return self.remoteAddress
}

func (self *NetConnection) Send(message Message) error {
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
		_, err = self.sendQueue.Add(framed)
		return err
	}()
	if err != nil {
		// the compressor state no longer matches the peer, or the peer stalled
		self.closeWithError(err)
		return err
	}
	return nil
}

func (self *NetConnection) SendWithResult(ctx context.Context, message Message) (Message, error) {
	return sendWithResult(ctx, self.roundTrips, self.Send, message, self.settings.RoundTripTimeout)
}

// queued messages are written before the stream closes, bounded by the write timeout
func (self *NetConnection) Close() {
	if self.isOpen() {
		self.flush(self.settings.WriteTimeout)
	}
	self.closeWithError(nil)
}

func (self *NetConnection) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n, _ := self.sendQueue.QueueSize(); n == 0 {
			return
		}
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (self *NetConnection) closeWithError(err error) {
	self.connectionBase.closeWithError(self, err, func() {
		self.sendQueue.Close()
		self.stream.Close()
	})
}

func (self *NetConnection) runWriter() {
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		// the item stays queued until written, so an empty queue means everything was written
		item := self.sendQueue.PeekFirst()
		if item == nil {
			select {
			case <-self.ctx.Done():
				return
			case <-self.sendQueue.notify:
			case <-time.After(self.settings.PingTimeout):
				if err := self.Send(&Ping{}); err != nil {
					return
				}
			}
			continue
		}

		if err := self.write(item.framed); err != nil {
			self.closeWithError(&TransportError{Err: err})
			return
		}
		self.sendQueue.RemoveFirst()
		glog.V(2).Infof("[c]%s-> %d bytes\n", self.id, len(item.framed))
	}
}

// chunked writes, each bounded by the write deadline
func (self *NetConnection) write(framed []byte) error {
	chunkSize := int(self.settings.WriteChunkSize)
	if chunkSize <= 0 {
		chunkSize = len(framed)
	}
	for i := 0; i < len(framed); {
		j := min(i+chunkSize, len(framed))
		self.stream.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		n, err := self.stream.Write(framed[i:j])
		i += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *NetConnection) runReader() {
	for {
		self.stream.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		message, err := self.framedChannel.ReadFrameMessage(self.stream)
		if err != nil {
			self.closeWithError(err)
			return
		}
		if _, ok := message.(*Ping); ok {
			glog.V(2).Infof("[c]%s<- ping\n", self.id)
			continue
		}
		self.receiveMessage(self, message)
	}
}
