package collab

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/bringyour/collab/collab/model"
)

func testHostSettings() *HostSettings {
	settings := DefaultHostSettings()
	settings.ConnectionSettings = testConnectionSettings()
	settings.PasswordCost = bcrypt.MinCost
	return settings
}

func testClientSettings() *ClientSettings {
	settings := DefaultClientSettings()
	settings.ConnectionSettings = testConnectionSettings()
	return settings
}

func newTestReplica() *model.Module {
	return model.NewModule("replica", 0)
}

func eventually(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if deadline.Before(time.Now()) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func snapshotsEqual(documents ...Document) bool {
	var first []byte
	for i, document := range documents {
		snapshot, err := document.Snapshot()
		if err != nil {
			return false
		}
		if i == 0 {
			first = snapshot
		} else if string(first) != string(snapshot) {
			return false
		}
	}
	return true
}

// collects client receives
type receiveLog struct {
	stateLock sync.Mutex
	messages  []Message
}

func newReceiveLog(client *Client) *receiveLog {
	log := &receiveLog{}
	client.AddReceiveCallback(func(message Message) {
		log.stateLock.Lock()
		defer log.stateLock.Unlock()
		log.messages = append(log.messages, message)
	})
	return log
}

func (self *receiveLog) filter(keep func(Message) bool) []Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := []Message{}
	for _, message := range self.messages {
		if keep(message) {
			out = append(out, message)
		}
	}
	return out
}

func (self *receiveLog) deltas() []Message {
	return self.filter(isDelta)
}

func (self *receiveLog) chats() []Message {
	return self.filter(func(message Message) bool {
		_, ok := message.(*ChatMessage)
		return ok
	})
}

// two editors make edits on their replicas, which converge with the host document
func testTwoEditors(t *testing.T, module *model.Module, a *Client, b *Client) {
	replicaA := a.Document().(*model.Module)
	replicaB := b.Document().(*model.Module)

	eventually(t, func() bool {
		return snapshotsEqual(module, replicaA, replicaB)
	})
	eventually(t, func() bool {
		return len(a.Participants()) == 2 && len(b.Participants()) == 2
	})

	tx, err := BeginPatternTransaction(a, replicaA, 0, 0, 64, 0, testChannelCount)
	assert.Equal(t, err, nil)
	err = Edit(tx, func() {
		replicaA.SetCell(0, 4, 1, model.Cell{Note: 60, Instrument: 1})
		replicaA.SetCell(0, 8, 3, model.Cell{Command: 1, Param: 2})
	})
	assert.Equal(t, err, nil)

	tx, err = BeginSampleTransaction(b, replicaB, 0)
	assert.Equal(t, err, nil)
	err = Edit(tx, func() {
		sample, _ := replicaB.Sample(0)
		sample.Name = "kick2"
		sample.LoopEnd = 4
		replicaB.SetSample(0, sample)
	})
	assert.Equal(t, err, nil)

	tx, err = BeginPluginTransaction(a, replicaA, 0)
	assert.Equal(t, err, nil)
	err = Edit(tx, func() {
		replicaA.SetPluginParameter(0, 3, 0.5)
	})
	assert.Equal(t, err, nil)

	tx, err = BeginSequenceTransaction(b, replicaB, 0)
	assert.Equal(t, err, nil)
	err = Edit(tx, func() {
		sequence, _ := replicaB.Sequence(0)
		sequence.Orders = append(sequence.Orders, 0, 1)
		replicaB.SetSequence(0, sequence)
	})
	assert.Equal(t, err, nil)

	eventually(t, func() bool {
		cell, _ := replicaB.Cell(0, 8, 3)
		sequence, _ := replicaA.Sequence(0)
		return cell == model.Cell{Command: 1, Param: 2} && len(sequence.Orders) == 4
	})
	eventually(t, func() bool {
		return snapshotsEqual(module, replicaA, replicaB)
	})

	cell, _ := module.Cell(0, 4, 1)
	assert.Equal(t, cell, model.Cell{Note: 60, Instrument: 1})
	sample, _ := module.Sample(0)
	assert.Equal(t, sample.Name, "kick2")
	assert.Equal(t, module.IsModified(), true)
	assert.Equal(t, replicaB.IsModified(), true)
}

func TestHostJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 1, 1, "secret")
	assert.Equal(t, err, nil)
	// reopening keeps the id
	sessionId2, err := host.OpenSession(module, 1, 1, "secret")
	assert.Equal(t, err, nil)
	assert.Equal(t, sessionId2, sessionId)
	id, ok := host.SessionId(module)
	assert.Equal(t, ok, true)
	assert.Equal(t, id, sessionId)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	sessions, err := a.ConnectLocal(host)
	assert.Equal(t, err, nil)
	assert.Equal(t, sessions, []DocumentInfo{
		{
			DocumentId:        sessionId,
			Name:              "test.it",
			MaxEditors:        1,
			MaxObservers:      1,
			PasswordProtected: true,
		},
	})
	assert.Equal(t, a.IsConnected(), true)
	assert.Equal(t, a.IsJoined(), false)

	outcome, err := a.Join(ctx, NewId(), "secret", RoleEditor, "ana")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeNotFound)

	outcome, err = a.Join(ctx, sessionId, "wrong", RoleEditor, "ana")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeWrongPassword)
	assert.Equal(t, a.IsJoined(), false)

	outcome, err = a.Join(ctx, sessionId, "secret", RoleEditor, "ana")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeAccepted)
	assert.Equal(t, a.IsJoined(), true)
	assert.Equal(t, a.DocumentId(), sessionId)
	assert.Equal(t, a.Role(), RoleEditor)
	assert.Equal(t, snapshotsEqual(module, a.Document()), true)
	assert.Equal(t, a.Document().Name(), "test.it")

	// a rejected rejoin keeps the current session
	outcome, err = a.Join(ctx, sessionId, "wrong", RoleEditor, "ana")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeWrongPassword)
	assert.Equal(t, host.Participants(sessionId), []Participant{
		{ConnectionId: a.ConnectionId(), Name: "ana", Role: RoleEditor},
	})

	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	_, err = b.ConnectLocal(host)
	assert.Equal(t, err, nil)

	outcome, err = b.Join(ctx, sessionId, "secret", RoleEditor, "bo")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeRoleFull)
	outcome, err = b.Join(ctx, sessionId, "secret", RoleObserver, "bo")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeAccepted)
	assert.Equal(t, b.Role(), RoleObserver)

	outcome, err = a.Join(ctx, sessionId, "secret", RoleObserver, "ana")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeRoleFull)
	assert.Equal(t, a.Role(), RoleEditor)

	c := NewClient(ctx, newTestReplica(), testClientSettings())
	defer c.Close()
	_, err = c.ConnectLocal(host)
	assert.Equal(t, err, nil)
	outcome, err = c.Join(ctx, sessionId, "secret", RoleObserver, "cy")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeRoleFull)

	sessions = host.Sessions()
	assert.Equal(t, len(sessions), 1)
	assert.Equal(t, sessions[0].Editors, uint32(1))
	assert.Equal(t, sessions[0].Observers, uint32(1))

	// participants in join order
	expectedParticipants := []Participant{
		{ConnectionId: a.ConnectionId(), Name: "ana", Role: RoleEditor},
		{ConnectionId: b.ConnectionId(), Name: "bo", Role: RoleObserver},
	}
	assert.Equal(t, host.Participants(sessionId), expectedParticipants)
	assert.Equal(t, a.Participants(), expectedParticipants)
	assert.Equal(t, b.Participants(), expectedParticipants)

	// leaving frees the slot
	assert.Equal(t, a.Leave(), nil)
	assert.Equal(t, a.IsJoined(), false)
	assert.Equal(t, b.Participants(), expectedParticipants[1:])
	outcome, err = c.Join(ctx, sessionId, "secret", RoleEditor, "cy")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeAccepted)

	// not joined
	assert.Equal(t, a.SendChat("hello"), ErrNotJoined)
}

func TestHostLoopbackEditors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 4, 4, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()

	notifies := 0
	unsubscribe := b.Document().(*model.Module).Subscribe(func(hint model.UpdateHint) {
		notifies += 1
	})
	defer unsubscribe()

	for _, client := range []*Client{a, b} {
		_, err := client.ConnectLocal(host)
		assert.Equal(t, err, nil)
		outcome, err := client.Join(ctx, sessionId, "", RoleEditor, "editor")
		assert.Equal(t, err, nil)
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}

	testTwoEditors(t, module, a, b)
	// restore plus one per remote delta and one per own echoed delta
	assert.Equal(t, notifies, 5)
}

func TestHostTcpEditors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 4, 4, "pw")
	assert.Equal(t, err, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- host.Serve(ctx, listener)
	}()

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()

	for _, client := range []*Client{a, b} {
		sessions, err := client.Connect(ctx, listener.Addr().String())
		assert.Equal(t, err, nil)
		assert.Equal(t, len(sessions), 1)
		assert.Equal(t, client.Connection().RemoteAddress(), listener.Addr().String())
		outcome, err := client.Join(ctx, sessionId, "pw", RoleEditor, "editor")
		assert.Equal(t, err, nil)
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}

	testTwoEditors(t, module, a, b)

	host.Close()
	select {
	case err := <-serveErrs:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestHostWsEditors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 4, 4, "")
	assert.Equal(t, err, nil)

	server := httptest.NewServer(host)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()

	for _, client := range []*Client{a, b} {
		_, err := client.ConnectWs(ctx, url)
		assert.Equal(t, err, nil)
		outcome, err := client.Join(ctx, sessionId, "", RoleEditor, "editor")
		assert.Equal(t, err, nil)
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}

	testTwoEditors(t, module, a, b)
}

func TestHostDropsDeltas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 1, 1, "")
	assert.Equal(t, err, nil)
	before := requireSnapshot(t, module)

	editor := NewClient(ctx, newTestReplica(), testClientSettings())
	defer editor.Close()
	observer := NewClient(ctx, newTestReplica(), testClientSettings())
	defer observer.Close()

	editor.ConnectLocal(host)
	outcome, _ := editor.Join(ctx, sessionId, "", RoleEditor, "ed")
	assert.Equal(t, outcome, JoinOutcomeAccepted)
	observer.ConnectLocal(host)
	outcome, _ = observer.Join(ctx, sessionId, "", RoleObserver, "ob")
	assert.Equal(t, outcome, JoinOutcomeAccepted)

	editorLog := newReceiveLog(editor)

	// observers cannot edit
	err = observer.Send(&ChannelDelta{
		Channel:  0,
		Mask:     ChannelMaskMuted,
		Settings: model.ChannelSettings{Muted: true},
	})
	assert.Equal(t, err, nil)

	// out of range
	err = editor.Send(&PatternDelta{
		PatternId:    9,
		RowCount:     1,
		ChannelCount: 1,
		Cells:        []CellDelta{{Mask: CellMaskNote, Cell: model.Cell{Note: 1}}},
	})
	assert.Equal(t, err, nil)
	err = editor.Send(&PluginParameterDelta{
		Slot:    0,
		Changes: []ParameterChange{{Index: 0, Value: 1}, {Index: 100, Value: 1}},
	})
	assert.Equal(t, err, nil)

	// no net change
	err = editor.Send(&SamplePropertyDelta{
		SampleId: 0,
		Mask:     SampleMaskName,
		Sample:   model.Sample{Name: "kick"},
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, requireSnapshot(t, module), before)
	assert.Equal(t, module.IsModified(), false)
	assert.Equal(t, len(editorLog.deltas()), 0)
	assert.Equal(t, editor.IsConnected(), true)
}

func TestHostAuthoritativeDelta(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 2, 0, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	for _, client := range []*Client{a, b} {
		client.ConnectLocal(host)
		outcome, _ := client.Join(ctx, sessionId, "", RoleEditor, "editor")
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}
	logA := newReceiveLog(a)
	logB := newReceiveLog(b)

	// the volume already matches the host
	err = a.Send(&ChannelDelta{
		Channel:  1,
		Mask:     ChannelMaskName | ChannelMaskVolume,
		Settings: model.ChannelSettings{Name: "lead", Volume: 64},
	})
	assert.Equal(t, err, nil)

	expected := []Message{
		&ChannelDelta{
			Channel:  1,
			Mask:     ChannelMaskName,
			Settings: model.ChannelSettings{Name: "lead", Volume: 64, Pan: 128},
		},
	}
	// the sender receives the authoritative echo too
	assert.Equal(t, logA.deltas(), expected)
	assert.Equal(t, logB.deltas(), expected)

	settings, _ := b.Document().ChannelSettings(1)
	assert.Equal(t, settings, model.ChannelSettings{Name: "lead", Volume: 64, Pan: 128})
}

func TestHostRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 1, 2, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	a.ConnectLocal(host)
	outcome, _ := a.Join(ctx, sessionId, "", RoleEditor, "ana")
	assert.Equal(t, outcome, JoinOutcomeAccepted)

	position := Position{Pattern: 0, Row: 12, Channel: 2, Column: 1}
	assert.Equal(t, a.SendCursor(position), nil)

	// a late joiner sees existing cursors
	b.ConnectLocal(host)
	outcome, _ = b.Join(ctx, sessionId, "", RoleObserver, "bo")
	assert.Equal(t, outcome, JoinOutcomeAccepted)
	assert.Equal(t, b.Cursors(), map[Id]Position{a.ConnectionId(): position})

	logA := newReceiveLog(a)
	logB := newReceiveLog(b)

	position.Row = 13
	assert.Equal(t, a.SendCursor(position), nil)
	assert.Equal(t, b.Cursors()[a.ConnectionId()], position)
	// not echoed to the sender
	_, ok := a.Cursors()[a.ConnectionId()]
	assert.Equal(t, ok, false)

	// observers can chat. The host stamps the sender.
	assert.Equal(t, b.SendChat("hi"), nil)
	expected := []Message{&ChatMessage{ConnectionId: b.ConnectionId(), Text: "hi"}}
	assert.Equal(t, logA.chats(), expected)
	assert.Equal(t, logB.chats(), expected)

	// leaving clears the cursor
	assert.Equal(t, a.Leave(), nil)
	assert.Equal(t, len(b.Cursors()), 0)
	assert.Equal(t, len(b.Participants()), 1)
}

func TestHostCloseSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 1, 0, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	a.ConnectLocal(host)
	outcome, _ := a.Join(ctx, sessionId, "", RoleEditor, "ana")
	assert.Equal(t, outcome, JoinOutcomeAccepted)
	log := newReceiveLog(a)

	assert.Equal(t, host.CloseSession(module), nil)
	assert.Equal(t, host.CloseSession(module), ErrSessionNotFound)

	closing := log.filter(func(message Message) bool {
		_, ok := message.(*SessionClosing)
		return ok
	})
	assert.Equal(t, closing, []Message{&SessionClosing{DocumentId: sessionId}})
	assert.Equal(t, a.IsJoined(), false)
	assert.Equal(t, a.SendChat("hello"), ErrSessionClosed)
	assert.Equal(t, len(host.Sessions()), 0)
	assert.Equal(t, len(host.Participants(sessionId)), 0)

	// the connection stays usable
	assert.Equal(t, a.IsConnected(), true)
	sessions, err := a.ListSessions(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(sessions), 0)

	// a new session for the same document
	sessionId2, err := host.OpenSession(module, 1, 0, "")
	assert.Equal(t, err, nil)
	assert.NotEqual(t, sessionId2, sessionId)
	outcome, _ = a.Join(ctx, sessionId2, "", RoleEditor, "ana")
	assert.Equal(t, outcome, JoinOutcomeAccepted)
}

func TestHostJoinRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := testHostSettings()
	settings.JoinRateLimit = rate.Every(time.Hour)
	settings.JoinBurst = 2
	host := NewHost(ctx, settings)
	defer host.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	go host.Serve(ctx, listener)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	_, err = a.Connect(ctx, listener.Addr().String())
	assert.Equal(t, err, nil)

	outcomes := []JoinOutcome{}
	for i := 0; i < 3; i += 1 {
		outcome, err := a.Join(ctx, NewId(), "", RoleEditor, "ana")
		assert.Equal(t, err, nil)
		outcomes = append(outcomes, outcome)
	}
	assert.Equal(t, outcomes, []JoinOutcome{
		JoinOutcomeNotFound,
		JoinOutcomeNotFound,
		JoinOutcomeTooManyAttempts,
	})

	// the limit is per remote host, not per connection
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	_, err = b.Connect(ctx, listener.Addr().String())
	assert.Equal(t, err, nil)
	outcome, err := b.Join(ctx, NewId(), "", RoleEditor, "bo")
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, JoinOutcomeTooManyAttempts)
}

func TestHostClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 1, 0, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	closeErrs := []error{}
	a.AddCloseCallback(func(err error) {
		closeErrs = append(closeErrs, err)
	})
	a.ConnectLocal(host)
	outcome, _ := a.Join(ctx, sessionId, "", RoleEditor, "ana")
	assert.Equal(t, outcome, JoinOutcomeAccepted)

	host.Close()
	select {
	case <-host.Done():
	default:
		t.Fatal("expected done")
	}

	assert.Equal(t, closeErrs, []error{ErrConnectionClosed})
	assert.Equal(t, a.IsConnected(), false)
	assert.Equal(t, a.IsJoined(), false)

	_, err = host.OpenSession(module, 1, 0, "")
	assert.Equal(t, err, ErrHostClosed)
	_, err = a.ConnectLocal(host)
	assert.Equal(t, err, ErrHostClosed)

	// the replica keeps the last state
	assert.Equal(t, snapshotsEqual(module, a.Document()), true)
}

func TestHostPatternDeltaTrimmed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 2, 0, "")
	assert.Equal(t, err, nil)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	for _, client := range []*Client{a, b} {
		client.ConnectLocal(host)
		outcome, _ := client.Join(ctx, sessionId, "", RoleEditor, "editor")
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}
	logB := newReceiveLog(b)

	// the transaction spans the whole pattern. Only one note changes.
	err = a.Transact(func(sender Sender, document Document) error {
		tx, err := BeginPatternTransaction(sender, document, 0, 0, 64, 0, testChannelCount)
		if err != nil {
			return err
		}
		return Edit(tx, func() {
			document.SetCell(0, 4, 0, model.Cell{Note: 60})
		})
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, logB.deltas(), []Message{
		&PatternDelta{
			PatternId:    0,
			RowStart:     4,
			RowCount:     1,
			ChannelStart: 0,
			ChannelCount: 1,
			Cells: []CellDelta{
				{Mask: CellMaskNote, Cell: model.Cell{Note: 60}},
			},
		},
	})
	cell, _ := b.Document().Cell(0, 4, 0)
	assert.Equal(t, cell, model.Cell{Note: 60})
}

func TestClientTransactHoldsRemoteDeltas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(ctx, testHostSettings())
	defer host.Close()

	module := newTestModule()
	sessionId, err := host.OpenSession(module, 2, 0, "")
	assert.Equal(t, err, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	go host.Serve(ctx, listener)

	a := NewClient(ctx, newTestReplica(), testClientSettings())
	defer a.Close()
	b := NewClient(ctx, newTestReplica(), testClientSettings())
	defer b.Close()
	for _, client := range []*Client{a, b} {
		_, err := client.Connect(ctx, listener.Addr().String())
		assert.Equal(t, err, nil)
		outcome, err := client.Join(ctx, sessionId, "", RoleEditor, "editor")
		assert.Equal(t, err, nil)
		assert.Equal(t, outcome, JoinOutcomeAccepted)
	}
	logB := newReceiveLog(b)

	err = a.Transact(func(sender Sender, document Document) error {
		tx, err := BeginPatternTransaction(sender, document, 0, 4, 1, 0, 1)
		if err != nil {
			return err
		}
		document.SetCell(0, 4, 0, model.Cell{Note: 3})

		// b edits the same cell and reaches the host first
		err = b.Transact(func(sender Sender, document Document) error {
			tx, err := BeginPatternTransaction(sender, document, 0, 4, 1, 0, 1)
			if err != nil {
				return err
			}
			return Edit(tx, func() {
				document.SetCell(0, 4, 0, model.Cell{Note: 7})
			})
		})
		if err != nil {
			return err
		}
		eventually(t, func() bool {
			cell, _ := module.Cell(0, 4, 0)
			return cell.Note == 7
		})
		// the echo to a is in flight
		time.Sleep(100 * time.Millisecond)

		cell, _ := document.Cell(0, 4, 0)
		assert.Equal(t, cell, model.Cell{Note: 3})
		return tx.Commit()
	})
	assert.Equal(t, err, nil)

	eventually(t, func() bool {
		return len(logB.deltas()) == 2
	})
	deltas := logB.deltas()
	assert.Equal(t, deltas[0].(*PatternDelta).Cells, []CellDelta{{Mask: CellMaskNote, Cell: model.Cell{Note: 7}}})
	assert.Equal(t, deltas[1].(*PatternDelta).Cells, []CellDelta{{Mask: CellMaskNote, Cell: model.Cell{Note: 3}}})

	eventually(t, func() bool {
		return snapshotsEqual(module, a.Document(), b.Document())
	})
	cell, _ := module.Cell(0, 4, 0)
	assert.Equal(t, cell, model.Cell{Note: 3})
}
