package collab

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type HostSettings struct {
	ConnectionSettings *ConnectionSettings
	WsSettings         *WsSettings

	// bcrypt cost of session password hashes
	PasswordCost int

	// join attempts per remote address. In-process connections are not limited.
	JoinRateLimit       rate.Limit
	JoinBurst           int
	JoinLimiterTtl      time.Duration
	JoinLimiterCapacity uint64
}

func DefaultHostSettings() *HostSettings {
	return &HostSettings{
		ConnectionSettings:  DefaultConnectionSettings(),
		WsSettings:          DefaultWsSettings(),
		PasswordCost:        bcrypt.DefaultCost,
		JoinRateLimit:       rate.Every(1 * time.Second),
		JoinBurst:           5,
		JoinLimiterTtl:      10 * time.Minute,
		JoinLimiterCapacity: 10_000,
	}
}

// The session registry. Maps documents to sessions, gates joins by capacity and password,
// applies inbound deltas to the document and rebroadcasts the authoritative result.
//
// The host holds the only strong reference from a connection to its session
// (`connectionSessions`). Connections never point at a session.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *HostSettings

	stateLock sync.Mutex
	// session id -> session
	sessions map[Id]*DocumentSession
	// document -> session id
	documentSessions map[Document]Id
	// every attached connection, joined or not
	connections map[Id]Connection
	// connection id -> session id
	connectionSessions map[Id]Id
	closed             bool

	// remote host -> limiter
	joinLimiters *ttlcache.Cache[string, *rate.Limiter]
}

func NewHostWithDefaults(ctx context.Context) *Host {
	return NewHost(ctx, DefaultHostSettings())
}

func NewHost(ctx context.Context, settings *HostSettings) *Host {
	cancelCtx, cancel := context.WithCancel(ctx)

	joinLimiters := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](settings.JoinLimiterTtl),
		ttlcache.WithCapacity[string, *rate.Limiter](settings.JoinLimiterCapacity),
	)
	go joinLimiters.Start()

	return &Host{
		ctx:                cancelCtx,
		cancel:             cancel,
		settings:           settings,
		sessions:           map[Id]*DocumentSession{},
		documentSessions:   map[Document]Id{},
		connections:        map[Id]Connection{},
		connectionSessions: map[Id]Id{},
		joinLimiters:       joinLimiters,
	}
}

// Registers a session for the document, or updates the capacity and password of the existing one.
// An empty password leaves the session unprotected.
func (self *Host) OpenSession(document Document, maxEditors int, maxObservers int, password string) (Id, error) {
	var passwordHash []byte
	if password != "" {
		var err error
		passwordHash, err = bcrypt.GenerateFromPassword([]byte(password), self.settings.PasswordCost)
		if err != nil {
			return Id{}, err
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return Id{}, ErrHostClosed
	}

	if sessionId, ok := self.documentSessions[document]; ok {
		session := self.sessions[sessionId]
		session.maxEditors = maxEditors
		session.maxObservers = maxObservers
		session.passwordHash = passwordHash
		glog.V(1).Infof("[h]%s update %d editors %d observers\n", sessionId, maxEditors, maxObservers)
		return sessionId, nil
	}

	session := newDocumentSession(document, maxEditors, maxObservers, passwordHash)
	self.sessions[session.id] = session
	self.documentSessions[document] = session.id
	glog.V(1).Infof("[h]%s open \"%s\" %d editors %d observers\n", session.id, document.Name(), maxEditors, maxObservers)
	return session.id, nil
}

// Sends `SessionClosing` to every participant and removes the session.
// The connections stay open and may join another session.
func (self *Host) CloseSession(document Document) error {
	self.stateLock.Lock()
	sessionId, ok := self.documentSessions[document]
	if !ok {
		self.stateLock.Unlock()
		return ErrSessionNotFound
	}
	session := self.sessions[sessionId]
	delete(self.documentSessions, document)
	delete(self.sessions, sessionId)
	session.closed = true
	targets := session.connections()
	for _, p := range session.participants {
		delete(self.connectionSessions, p.conn.Id())
	}
	session.participants = []*participant{}
	session.cursors = map[Id]Position{}
	session.editors = 0
	session.observers = 0
	self.stateLock.Unlock()

	glog.V(1).Infof("[h]%s close\n", sessionId)
	session.queue(&SessionClosing{DocumentId: sessionId}, targets)
	session.flush()
	return nil
}

func (self *Host) SessionId(document Document) (Id, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sessionId, ok := self.documentSessions[document]
	return sessionId, ok
}

// joinable sessions in open order
func (self *Host) Sessions() []DocumentInfo {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sessions := maps.Values(self.sessions)
	slices.SortFunc(sessions, func(a *DocumentSession, b *DocumentSession) int {
		if a.id.LessThan(b.id) {
			return -1
		} else if b.id.LessThan(a.id) {
			return 1
		}
		return 0
	})
	infos := []DocumentInfo{}
	for _, session := range sessions {
		infos = append(infos, session.info())
	}
	return infos
}

func (self *Host) Participants(sessionId Id) []Participant {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	session, ok := self.sessions[sessionId]
	if !ok {
		return []Participant{}
	}
	return session.participantList()
}

// Joins the connection to a session. On accept the `JoinAccepted` is queued to the connection
// ahead of any later delta of the session. Rejections are returned and not sent.
func (self *Host) Join(conn Connection, join *JoinSession) (JoinOutcome, *JoinAccepted) {
	return self.join(conn, join, func(accepted *JoinAccepted) Message {
		return accepted
	})
}

func (self *Host) join(conn Connection, join *JoinSession, reply func(*JoinAccepted) Message) (JoinOutcome, *JoinAccepted) {
	if !self.allowJoin(conn.RemoteAddress()) {
		glog.Infof("[h]%s join too many attempts from %s\n", conn.Id(), conn.RemoteAddress())
		return JoinOutcomeTooManyAttempts, nil
	}

	self.stateLock.Lock()
	session, ok := self.sessions[join.DocumentId]
	var passwordHash []byte
	if ok {
		passwordHash = session.passwordHash
	}
	self.stateLock.Unlock()

	if !ok {
		glog.Infof("[h]%s join %s not found\n", conn.Id(), join.DocumentId)
		return JoinOutcomeNotFound, nil
	}
	if 0 < len(passwordHash) {
		if err := bcrypt.CompareHashAndPassword(passwordHash, []byte(join.Password)); err != nil {
			glog.Infof("[h]%s join %s wrong password\n", conn.Id(), join.DocumentId)
			return JoinOutcomeWrongPassword, nil
		}
	}

	var previousSession *DocumentSession
	session.modelLock.Lock()
	outcome, accepted := func() (JoinOutcome, *JoinAccepted) {
		snapshot, err := session.document.Snapshot()
		if err != nil {
			glog.Infof("[h]%s snapshot error = %s\n", session.id, err)
			return JoinOutcomeNotFound, nil
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if session.closed {
			return JoinOutcomeNotFound, nil
		}
		// a rejoin in the same role reuses its own slot
		existing := session.participant(conn.Id())
		if !session.hasCapacity(join.Role) && (existing == nil || existing.role != join.Role) {
			return JoinOutcomeRoleFull, nil
		}

		// a connection is in at most one session
		if evictedSession, evicted := self.evict(conn.Id()); evicted != nil {
			evictedSession.queue(&ParticipantUpdate{
				Participant: evicted.Participant(),
				Joined:      false,
			}, evictedSession.connections())
			previousSession = evictedSession
		}

		p := &participant{
			conn: conn,
			name: join.UserName,
			role: join.Role,
		}
		others := session.connections()
		session.add(p)
		self.connectionSessions[conn.Id()] = session.id

		accepted := &JoinAccepted{
			ConnectionId:     conn.Id(),
			DocumentId:       session.id,
			Role:             join.Role,
			Name:             session.document.Name(),
			DocumentSnapshot: snapshot,
			Participants:     session.participantList(),
			Cursors:          session.cursorList(),
		}
		session.queue(reply(accepted), []Connection{conn})
		session.queue(&ParticipantUpdate{
			Participant: p.Participant(),
			Joined:      true,
		}, others)
		return JoinOutcomeAccepted, accepted
	}()
	session.modelLock.Unlock()
	if previousSession != nil && previousSession != session {
		glog.V(1).Infof("[h]%s leave %s\n", previousSession.id, conn.Id())
		previousSession.flush()
	}
	session.flush()

	if outcome == JoinOutcomeAccepted {
		glog.V(1).Infof("[h]%s join %s \"%s\" as %s\n", session.id, conn.Id(), join.UserName, join.Role)
	} else {
		glog.Infof("[h]%s join %s rejected = %s\n", session.id, conn.Id(), outcome)
	}
	return outcome, accepted
}

func (self *Host) allowJoin(remoteAddress string) bool {
	if remoteAddress == "" {
		return true
	}
	remoteHost, _, err := net.SplitHostPort(remoteAddress)
	if err != nil {
		remoteHost = remoteAddress
	}
	item, _ := self.joinLimiters.GetOrSet(
		remoteHost,
		rate.NewLimiter(self.settings.JoinRateLimit, self.settings.JoinBurst),
	)
	return item.Value().Allow()
}

// Removes the connection from its session and notifies the remaining participants.
// Returns false if the connection was not joined.
func (self *Host) Leave(conn Connection) bool {
	self.stateLock.Lock()
	session, p := self.evict(conn.Id())
	var others []Connection
	if p != nil {
		others = session.connections()
	}
	self.stateLock.Unlock()

	if p == nil {
		return false
	}
	glog.V(1).Infof("[h]%s leave %s\n", session.id, conn.Id())
	session.queue(&ParticipantUpdate{
		Participant: p.Participant(),
		Joined:      false,
	}, others)
	session.flush()
	return true
}

// must hold the state lock
func (self *Host) evict(connectionId Id) (*DocumentSession, *participant) {
	sessionId, ok := self.connectionSessions[connectionId]
	if !ok {
		return nil, nil
	}
	delete(self.connectionSessions, connectionId)
	session, ok := self.sessions[sessionId]
	if !ok {
		return nil, nil
	}
	p := session.remove(connectionId)
	if p == nil {
		return nil, nil
	}
	return session, p
}

func (self *Host) joinedSession(connectionId Id) (*DocumentSession, *participant) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sessionId, ok := self.connectionSessions[connectionId]
	if !ok {
		return nil, nil
	}
	session, ok := self.sessions[sessionId]
	if !ok {
		return nil, nil
	}
	p := session.participant(connectionId)
	if p == nil {
		return nil, nil
	}
	return session, p
}

func (self *Host) callbacks() ConnectionCallbacks {
	return ConnectionCallbacks{
		Receive: self.receive,
		Close:   self.connectionClosed,
	}
}

func (self *Host) receive(conn Connection, message Message) {
	switch v := message.(type) {
	case *RoundTripRequest:
		self.handleRequest(conn, v)
	default:
		self.handle(conn, message)
	}
}

func (self *Host) handleRequest(conn Connection, request *RoundTripRequest) {
	respond := func(result Message) {
		err := conn.Send(&RoundTripResponse{
			Handle: request.Handle,
			Result: result,
		})
		if err != nil {
			glog.Infof("[h]%s respond error = %s\n", conn.Id(), err)
		}
	}

	switch v := request.Message.(type) {
	case *ListSessions:
		respond(&SessionList{Sessions: self.Sessions()})
	case *JoinSession:
		outcome, _ := self.join(conn, v, func(accepted *JoinAccepted) Message {
			return &RoundTripResponse{
				Handle: request.Handle,
				Result: accepted,
			}
		})
		if outcome != JoinOutcomeAccepted {
			respond(&JoinRejected{Reason: outcome})
		}
	case nil:
		respond(nil)
	default:
		self.handle(conn, v)
		respond(nil)
	}
}

func (self *Host) handle(conn Connection, message Message) {
	switch v := message.(type) {
	case *Ping:
	case *ListSessions:
		conn.Send(&SessionList{Sessions: self.Sessions()})
	case *JoinSession:
		if outcome, _ := self.Join(conn, v); outcome != JoinOutcomeAccepted {
			conn.Send(&JoinRejected{Reason: outcome})
		}
	case *LeaveSession:
		self.Leave(conn)
	case *CursorPosition:
		self.relayCursor(conn, v)
	case *ChatMessage:
		self.relayChat(conn, v)
	default:
		if isDelta(message) {
			self.applyDelta(conn, message)
		} else {
			kind, _ := MessageKindOf(message)
			glog.Infof("[h]%s unexpected %s\n", conn.Id(), kind)
		}
	}
}

// Applies the delta under the model lock and broadcasts the change the host actually observed,
// re-derived from its own before and after state, to every participant including the sender.
func (self *Host) applyDelta(conn Connection, delta Message) {
	session, p := self.joinedSession(conn.Id())
	if session == nil {
		glog.V(2).Infof("[h]%s drop delta = %s\n", conn.Id(), ErrNotJoined)
		return
	}
	if p.role != RoleEditor {
		glog.Infof("[h]%s ignore delta from observer %s\n", session.id, conn.Id())
		return
	}

	session.modelLock.Lock()
	func() {
		defer session.modelLock.Unlock()

		self.stateLock.Lock()
		closed := session.closed
		self.stateLock.Unlock()
		if closed {
			return
		}

		collector := &messageCollector{}
		tx, err := BeginDeltaTransaction(collector, session.document, delta)
		if err != nil {
			glog.Infof("[h]%s drop delta from %s = %s\n", session.id, conn.Id(), err)
			return
		}
		hint, err := ApplyDelta(session.document, delta)
		if err != nil {
			tx.Cancel()
			glog.Infof("[h]%s drop delta from %s = %s\n", session.id, conn.Id(), err)
			return
		}
		tx.Commit()
		if len(collector.messages) == 0 {
			glog.V(2).Infof("[h]%s delta from %s is a no-op\n", session.id, conn.Id())
			return
		}

		session.document.SetModified()
		session.document.NotifyChanged(hint)

		self.stateLock.Lock()
		targets := session.connections()
		self.stateLock.Unlock()
		for _, message := range collector.messages {
			session.queue(message, targets)
		}
	}()
	session.flush()
}

func (self *Host) relayCursor(conn Connection, cursor *CursorPosition) {
	stamped := &CursorPosition{
		ConnectionId: conn.Id(),
		Position:     cursor.Position,
	}

	self.stateLock.Lock()
	sessionId, ok := self.connectionSessions[conn.Id()]
	session := self.sessions[sessionId]
	if !ok || session == nil {
		self.stateLock.Unlock()
		return
	}
	session.cursors[conn.Id()] = cursor.Position
	others := session.connections(conn.Id())
	self.stateLock.Unlock()

	session.queue(stamped, others)
	session.flush()
}

func (self *Host) relayChat(conn Connection, chat *ChatMessage) {
	stamped := &ChatMessage{
		ConnectionId: conn.Id(),
		Text:         chat.Text,
	}

	self.stateLock.Lock()
	sessionId, ok := self.connectionSessions[conn.Id()]
	session := self.sessions[sessionId]
	if !ok || session == nil {
		self.stateLock.Unlock()
		return
	}
	targets := session.connections()
	self.stateLock.Unlock()

	session.queue(stamped, targets)
	session.flush()
}

func (self *Host) register(conn Connection) error {
	closed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return true
		}
		self.connections[conn.Id()] = conn
		return false
	}()
	if closed {
		conn.Close()
		return ErrHostClosed
	}
	if conn.State() == ConnectionStateClosed {
		// closed before it was registered
		self.connectionClosed(conn, nil)
	}
	return nil
}

func (self *Host) connectionClosed(conn Connection, err error) {
	self.Leave(conn)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.connections, conn.Id())
}

// returns the participant end of an in-process connection pair
func (self *Host) ConnectLocal(callbacks ConnectionCallbacks) (Connection, error) {
	local, hostEnd, err := NewLoopbackPair(self.ctx, self.settings.ConnectionSettings, callbacks, self.callbacks())
	if err != nil {
		return nil, err
	}
	if err := self.register(hostEnd); err != nil {
		return nil, err
	}
	return local, nil
}

func (self *Host) ServeConn(conn net.Conn) (*NetConnection, error) {
	netConn, err := NewNetConnection(self.ctx, conn, self.settings.ConnectionSettings, self.callbacks())
	if err != nil {
		return nil, err
	}
	if err := self.register(netConn); err != nil {
		return nil, err
	}
	return netConn, nil
}

// websocket upgrade
func (self *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeWsConnection(
		self.ctx,
		w,
		r,
		self.settings.ConnectionSettings,
		self.settings.WsSettings,
		self.callbacks(),
	)
	if err != nil {
		glog.Infof("[h]upgrade error = %s\n", err)
		return
	}
	self.register(conn)
}

// accepts until the listener fails, `ctx` is done, or the host closes
func (self *Host) Serve(ctx context.Context, listener net.Listener) error {
	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()

	go func() {
		select {
		case <-serveCtx.Done():
		case <-self.ctx.Done():
		}
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-serveCtx.Done():
				return nil
			case <-self.ctx.Done():
				return nil
			default:
			}
			return err
		}
		if _, err := self.ServeConn(conn); err != nil {
			glog.Infof("[h]serve %s error = %s\n", conn.RemoteAddr(), err)
		}
	}
}

// Serves raw tcp on `tcpAddress` and websocket on `wsAddress`. An empty address is not served.
func (self *Host) ListenAndServe(ctx context.Context, tcpAddress string, wsAddress string) error {
	group, groupCtx := errgroup.WithContext(ctx)

	if tcpAddress != "" {
		listener, err := net.Listen("tcp", tcpAddress)
		if err != nil {
			return err
		}
		glog.Infof("[h]listen tcp %s\n", listener.Addr())
		group.Go(func() error {
			return self.Serve(groupCtx, listener)
		})
	}

	if wsAddress != "" {
		server := &http.Server{
			Addr:    wsAddress,
			Handler: self,
		}
		glog.Infof("[h]listen ws %s\n", wsAddress)
		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
			case <-self.ctx.Done():
			}
			// upgraded connections are owned by the host and closed by `Close`
			return server.Close()
		})
	}

	return group.Wait()
}

// closes every session and connection
func (self *Host) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	documents := maps.Keys(self.documentSessions)
	self.stateLock.Unlock()

	for _, document := range documents {
		self.CloseSession(document)
	}

	self.stateLock.Lock()
	conns := maps.Values(self.connections)
	self.stateLock.Unlock()
	for _, conn := range conns {
		conn.Close()
	}

	self.cancel()
	self.joinLimiters.Stop()
}

func (self *Host) Done() <-chan struct{} {
	return self.ctx.Done()
}
