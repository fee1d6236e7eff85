package collab

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ConnectionState int

const (
	ConnectionStateConnecting ConnectionState = iota
	ConnectionStateOpen
	ConnectionStateClosing
	ConnectionStateClosed
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateClosing:
		return "closing"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Called for every inbound message in the order the peer sent them, including round trip
// requests and responses. A `RoundTripResponse` is passed to the receiver before the
// pending request is resolved.
// Networked connections call this from the connection reader goroutine, so a receiver
// must not block on a round trip of the same connection.
type ReceiveFunction func(conn Connection, message Message)

// called once when the connection closes. `err` is nil for a local close.
type CloseFunction func(conn Connection, err error)

type ConnectionCallbacks struct {
	Receive ReceiveFunction
	Close   CloseFunction
}

type Connection interface {
	Id() Id
	// empty for in-process connections
	RemoteAddress() string
	State() ConnectionState
	// messages are delivered in `Send` order
	Send(message Message) error
	// wraps the message in a `RoundTripRequest` and waits for the matching `RoundTripResponse` result
	SendWithResult(ctx context.Context, message Message) (Message, error)
	Close()
	Done() <-chan struct{}
}

type ConnectionSettings struct {
	FramedChannelSettings *FramedChannelSettings
	// bounds `SendWithResult`. Zero waits until response or close.
	RoundTripTimeout time.Duration

	// networked connections only
	ConnectTimeout        time.Duration
	PingTimeout           time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	WriteChunkSize        ByteCount
	MaxSendQueueByteCount ByteCount
}

func DefaultConnectionSettings() *ConnectionSettings {
	pingTimeout := 5 * time.Second
	return &ConnectionSettings{
		FramedChannelSettings: DefaultFramedChannelSettings(),
		RoundTripTimeout:      30 * time.Second,
		ConnectTimeout:        5 * time.Second,
		PingTimeout:           pingTimeout,
		ReadTimeout:           3 * pingTimeout,
		WriteTimeout:          15 * time.Second,
		WriteChunkSize:        kib(64),
		MaxSendQueueByteCount: mib(128),
	}
}

// state common to loopback and networked connections
type connectionBase struct {
	ctx    context.Context
	cancel context.CancelFunc

	id        Id
	settings  *ConnectionSettings
	callbacks ConnectionCallbacks

	roundTrips *roundTripTable

	stateLock sync.Mutex
	state     ConnectionState
}

func newConnectionBase(ctx context.Context, settings *ConnectionSettings, callbacks ConnectionCallbacks) *connectionBase {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &connectionBase{
		ctx:        cancelCtx,
		cancel:     cancel,
		id:         NewId(),
		settings:   settings,
		callbacks:  callbacks,
		roundTrips: newRoundTripTable(),
		state:      ConnectionStateConnecting,
	}
}

func (self *connectionBase) Id() Id {
	return self.id
}

func (self *connectionBase) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *connectionBase) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *connectionBase) isOpen() bool {
	return self.State() == ConnectionStateOpen
}

func (self *connectionBase) setOpen() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state != ConnectionStateConnecting {
		return false
	}
	self.state = ConnectionStateOpen
	return true
}

func (self *connectionBase) receiveMessage(conn Connection, message Message) {
	if glog.V(2) {
		kind, _ := MessageKindOf(message)
		glog.Infof("[c]%s<- %s\n", self.id, kind)
	}
	if self.callbacks.Receive != nil {
		HandleError(func() {
			self.callbacks.Receive(conn, message)
		})
	}
	if response, ok := message.(*RoundTripResponse); ok {
		if !self.roundTrips.resolve(response.Handle, response.Result) {
			glog.V(2).Infof("[c]%s<- response for unknown handle %d\n", self.id, response.Handle)
		}
	}
}

// Closing, then `closeTransport`, then Closed. Pending round trips fail with `ErrConnectionClosed`.
// Returns false if the connection was already closing. Safe to call from inside the callbacks.
func (self *connectionBase) closeWithError(conn Connection, err error, closeTransport func()) bool {
	self.stateLock.Lock()
	if self.state == ConnectionStateClosing || self.state == ConnectionStateClosed {
		self.stateLock.Unlock()
		return false
	}
	self.state = ConnectionStateClosing
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[c]%s closed = %s\n", self.id, err)
	} else {
		glog.V(1).Infof("[c]%s closed\n", self.id)
	}

	self.cancel()
	if closeTransport != nil {
		closeTransport()
	}
	self.roundTrips.close(ErrConnectionClosed)

	self.stateLock.Lock()
	self.state = ConnectionStateClosed
	self.stateLock.Unlock()

	if self.callbacks.Close != nil {
		HandleError(func() {
			self.callbacks.Close(conn, err)
		})
	}
	return true
}
