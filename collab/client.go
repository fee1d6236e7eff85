package collab

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// called on the connection dispatch goroutine after the client applied the message
type ClientReceiveFunction func(message Message)

// called when the connection closes. The local replica stays usable.
type ClientCloseFunction func(err error)

type ClientSettings struct {
	ConnectionSettings *ConnectionSettings
	WsSettings         *WsSettings
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ConnectionSettings: DefaultConnectionSettings(),
		WsSettings:         DefaultWsSettings(),
	}
}

// A session participant with a local replica of the shared document.
// Authoritative deltas from the host are applied to the replica and raise the same
// `SetModified` and `NotifyChanged` hooks as a local edit.
//
// Local diff transactions run inside `Transact`, which holds off remote deltas between
// begin and commit:
//
//	err := client.Transact(func(sender Sender, document Document) error {
//		tx, err := BeginPatternTransaction(sender, document, 0, 4, 1, 0, 1)
//		if err != nil {
//			return err
//		}
//		return Edit(tx, func() {
//			document.SetCell(0, 4, 0, model.Cell{Note: 60})
//		})
//	})
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	// local replica
	document Document
	settings *ClientSettings
	// serializes local transactions with remote applies and join snapshots
	replicaLock sync.Mutex

	stateLock sync.Mutex
	conn      Connection
	joined    bool
	// assigned by the host on join
	connectionId Id
	documentId   Id
	role         Role
	// in join order
	participants []Participant
	cursors      map[Id]Position
	// error loading the last join snapshot
	joinErr error
	// the host closed the joined session
	sessionClosed bool

	receiveCallbacks callbackList[ClientReceiveFunction]
	closeCallbacks   callbackList[ClientCloseFunction]
}

func NewClientWithDefaults(ctx context.Context, document Document) *Client {
	return NewClient(ctx, document, DefaultClientSettings())
}

func NewClient(ctx context.Context, document Document, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:          cancelCtx,
		cancel:       cancel,
		document:     document,
		settings:     settings,
		participants: []Participant{},
		cursors:      map[Id]Position{},
	}
}

func (self *Client) Document() Document {
	return self.document
}

func (self *Client) AddReceiveCallback(receiveCallback ClientReceiveFunction) func() {
	return self.receiveCallbacks.add(receiveCallback)
}

func (self *Client) AddCloseCallback(closeCallback ClientCloseFunction) func() {
	return self.closeCallbacks.add(closeCallback)
}

func (self *Client) connectionCallbacks() ConnectionCallbacks {
	return ConnectionCallbacks{
		Receive: self.receive,
		Close:   self.connectionClosed,
	}
}

// in-process participant of a host, e.g. the hosting user's own editor
func (self *Client) ConnectLocal(host *Host) ([]DocumentInfo, error) {
	conn, err := host.ConnectLocal(self.connectionCallbacks())
	if err != nil {
		return nil, err
	}
	return self.handshake(self.ctx, conn)
}

// Connects over tcp and lists the joinable sessions.
func (self *Client) Connect(ctx context.Context, address string) ([]DocumentInfo, error) {
	var conn *NetConnection
	var err error
	if glog.V(2) {
		conn, err = TraceWithReturnError(fmt.Sprintf("[cl]connect %s", address), func() (*NetConnection, error) {
			return DialConnection(self.ctx, address, self.settings.ConnectionSettings, self.connectionCallbacks())
		})
	} else {
		conn, err = DialConnection(self.ctx, address, self.settings.ConnectionSettings, self.connectionCallbacks())
	}
	if err != nil {
		return nil, err
	}
	return self.handshake(ctx, conn)
}

// Connects over websocket and lists the joinable sessions.
func (self *Client) ConnectWs(ctx context.Context, url string) ([]DocumentInfo, error) {
	conn, err := DialWsConnection(
		self.ctx,
		url,
		self.settings.ConnectionSettings,
		self.settings.WsSettings,
		self.connectionCallbacks(),
	)
	if err != nil {
		return nil, err
	}
	return self.handshake(ctx, conn)
}

func (self *Client) handshake(ctx context.Context, conn Connection) ([]DocumentInfo, error) {
	var previousConn Connection
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		previousConn = self.conn
		self.conn = conn
		self.clearSession()
	}()
	if previousConn != nil {
		previousConn.Close()
	}

	sessions, err := self.ListSessions(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	glog.V(1).Infof("[cl]connected %s with %d sessions\n", conn.Id(), len(sessions))
	return sessions, nil
}

// must hold the state lock
func (self *Client) clearSession() {
	self.joined = false
	self.connectionId = Id{}
	self.documentId = Id{}
	self.participants = []Participant{}
	self.cursors = map[Id]Position{}
}

func (self *Client) Connection() Connection {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.conn
}

func (self *Client) IsConnected() bool {
	conn := self.Connection()
	return conn != nil && conn.State() == ConnectionStateOpen
}

func (self *Client) IsJoined() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.joined
}

// the connection id the host assigned on join
func (self *Client) ConnectionId() Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectionId
}

func (self *Client) DocumentId() Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.documentId
}

func (self *Client) Role() Role {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.role
}

func (self *Client) Participants() []Participant {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.participants)
}

func (self *Client) Cursors() map[Id]Position {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Clone(self.cursors)
}

func (self *Client) connection() (Connection, error) {
	conn := self.Connection()
	if conn == nil {
		return nil, ErrConnectionClosed
	}
	return conn, nil
}

func (self *Client) ListSessions(ctx context.Context) ([]DocumentInfo, error) {
	conn, err := self.connection()
	if err != nil {
		return nil, err
	}
	result, err := conn.SendWithResult(ctx, &ListSessions{})
	if err != nil {
		return nil, err
	}
	sessionList, ok := result.(*SessionList)
	if !ok {
		return nil, &ProtocolError{Err: fmt.Errorf("list sessions result %T", result)}
	}
	return sessionList.Sessions, nil
}

// On accept the snapshot is loaded into the local replica before any later delta is applied.
func (self *Client) Join(ctx context.Context, documentId Id, password string, role Role, userName string) (JoinOutcome, error) {
	conn, err := self.connection()
	if err != nil {
		return 0, err
	}

	join := func() (Message, error) {
		return conn.SendWithResult(ctx, &JoinSession{
			DocumentId: documentId,
			Password:   password,
			Role:       role,
			UserName:   userName,
		})
	}
	var result Message
	if glog.V(2) {
		result, err = TraceWithReturnError(fmt.Sprintf("[cl]join %s", documentId), join)
	} else {
		result, err = join()
	}
	if err != nil {
		return 0, err
	}

	switch v := result.(type) {
	case *JoinAccepted:
		self.stateLock.Lock()
		joinErr := self.joinErr
		self.stateLock.Unlock()
		if joinErr != nil {
			return 0, joinErr
		}
		return JoinOutcomeAccepted, nil
	case *JoinRejected:
		return v.Reason, nil
	default:
		return 0, &ProtocolError{Err: fmt.Errorf("join result %T", result)}
	}
}

func (self *Client) Leave() error {
	conn, err := self.connection()
	if err != nil {
		return err
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.clearSession()
		self.sessionClosed = false
	}()
	return conn.Send(&LeaveSession{})
}

func (self *Client) joinedErr() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.joined {
		return nil
	}
	if self.sessionClosed {
		return ErrSessionClosed
	}
	return ErrNotJoined
}

// Sends a message to the joined session.
func (self *Client) Send(message Message) error {
	conn, err := self.connection()
	if err != nil {
		return err
	}
	if err := self.joinedErr(); err != nil {
		return err
	}
	return conn.Send(message)
}

// Runs `edit` on the replica with remote deltas held off. Transactions inside `edit` must use
// `sender`. Their messages are sent in commit order after `edit` returns.
// `edit` must not join, leave, or start another `Transact`.
func (self *Client) Transact(edit func(sender Sender, document Document) error) error {
	if err := self.joinedErr(); err != nil {
		return err
	}
	collector := &messageCollector{}
	editErr := func() error {
		self.replicaLock.Lock()
		defer self.replicaLock.Unlock()
		return edit(collector, self.document)
	}()
	// committed changes are already in the replica
	for _, message := range collector.messages {
		if err := self.Send(message); err != nil {
			return err
		}
	}
	return editErr
}

func (self *Client) SendCursor(position Position) error {
	return self.Send(&CursorPosition{Position: position})
}

func (self *Client) SendChat(text string) error {
	return self.Send(&ChatMessage{Text: text})
}

func (self *Client) receive(conn Connection, message Message) {
	if conn != self.Connection() {
		// a replaced connection
		return
	}

	switch v := message.(type) {
	case *RoundTripResponse:
		// other results are handled by the waiting caller
		if accepted, ok := v.Result.(*JoinAccepted); ok {
			self.loadJoin(accepted)
		}
		return
	case *RoundTripRequest:
		glog.Infof("[cl]unexpected request %d\n", v.Handle)
		conn.Send(&RoundTripResponse{Handle: v.Handle})
		return
	case *JoinAccepted:
		self.loadJoin(v)
	case *ParticipantUpdate:
		self.updateParticipant(v)
	case *CursorPosition:
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.cursors[v.ConnectionId] = v.Position
		}()
	case *SessionClosing:
		glog.V(1).Infof("[cl]session %s closing\n", v.DocumentId)
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.documentId == v.DocumentId {
				self.clearSession()
				self.sessionClosed = true
			}
		}()
	default:
		if isDelta(message) {
			self.applyRemote(message)
		}
	}

	for _, receiveCallback := range self.receiveCallbacks.get() {
		HandleError(func() {
			receiveCallback(message)
		})
	}
}

func (self *Client) loadJoin(accepted *JoinAccepted) {
	self.replicaLock.Lock()
	err := self.document.Restore(accepted.DocumentSnapshot)
	self.replicaLock.Unlock()
	if err != nil {
		glog.Infof("[cl]join %s snapshot error = %s\n", accepted.DocumentId, err)
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.joinErr = err
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.joinErr = nil
	self.joined = true
	self.sessionClosed = false
	self.connectionId = accepted.ConnectionId
	self.documentId = accepted.DocumentId
	self.role = accepted.Role
	self.participants = slices.Clone(accepted.Participants)
	self.cursors = map[Id]Position{}
	for _, cursor := range accepted.Cursors {
		self.cursors[cursor.ConnectionId] = cursor.Position
	}
	glog.V(1).Infof("[cl]joined %s as %s\n", accepted.DocumentId, accepted.Role)
}

func (self *Client) updateParticipant(update *ParticipantUpdate) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connectionId := update.Participant.ConnectionId
	self.participants = slices.DeleteFunc(self.participants, func(p Participant) bool {
		return p.ConnectionId == connectionId
	})
	if update.Joined {
		self.participants = append(self.participants, update.Participant)
	} else {
		delete(self.cursors, connectionId)
	}
}

func (self *Client) applyRemote(delta Message) {
	if !self.IsJoined() {
		return
	}
	self.replicaLock.Lock()
	hint, err := ApplyDelta(self.document, delta)
	if err == nil {
		self.document.SetModified()
	}
	self.replicaLock.Unlock()
	if err != nil {
		// the local shape diverged. The host state is authoritative and a rejoin resyncs.
		glog.Infof("[cl]drop delta = %s\n", err)
		return
	}
	self.document.NotifyChanged(hint)
}

func (self *Client) connectionClosed(conn Connection, err error) {
	replaced := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.conn != conn {
			return true
		}
		self.clearSession()
		return false
	}()
	if replaced {
		return
	}
	for _, closeCallback := range self.closeCallbacks.get() {
		HandleError(func() {
			closeCallback(err)
		})
	}
}

func (self *Client) Close() {
	if conn := self.Connection(); conn != nil {
		conn.Close()
	}
	self.cancel()
}
