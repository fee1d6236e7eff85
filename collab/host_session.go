package collab

import (
	"slices"
	"sync"

	"github.com/golang/glog"
)

type participant struct {
	conn Connection
	name string
	role Role
}

func (self *participant) Participant() Participant {
	return Participant{
		ConnectionId: self.conn.Id(),
		Name:         self.name,
		Role:         self.role,
	}
}

type broadcast struct {
	message Message
	targets []Connection
}

// The host side registration of one collaboratively edited document.
// Lock order is `modelLock` then the host state lock. Messages are queued on `broadcasts` while
// holding the model lock and sent after it is released, so network sends never happen under the
// model lock and leave in the order the changes were applied.
type DocumentSession struct {
	id       Id
	document Document

	// serializes applies to the document and join snapshots
	modelLock sync.Mutex

	// the fields below are guarded by the host state lock
	passwordHash []byte
	maxEditors   int
	maxObservers int
	editors      int
	observers    int
	// in join order
	participants []*participant
	cursors      map[Id]Position
	closed       bool

	broadcasts *dispatchQueue[*broadcast]
}

func newDocumentSession(document Document, maxEditors int, maxObservers int, passwordHash []byte) *DocumentSession {
	session := &DocumentSession{
		id:           NewId(),
		document:     document,
		passwordHash: passwordHash,
		maxEditors:   maxEditors,
		maxObservers: maxObservers,
		participants: []*participant{},
		cursors:      map[Id]Position{},
	}
	session.broadcasts = newDispatchQueue(session.send)
	return session
}

func (self *DocumentSession) Id() Id {
	return self.id
}

func (self *DocumentSession) Document() Document {
	return self.document
}

func (self *DocumentSession) send(b *broadcast) {
	for _, conn := range b.targets {
		if err := conn.Send(b.message); err != nil {
			glog.Infof("[h]%s broadcast to %s error = %s\n", self.id, conn.Id(), err)
		}
	}
}

func (self *DocumentSession) queue(message Message, targets []Connection) {
	if len(targets) == 0 {
		return
	}
	self.broadcasts.Add(&broadcast{
		message: message,
		targets: targets,
	})
}

func (self *DocumentSession) flush() {
	self.broadcasts.Drain()
}

// must hold the host state lock
func (self *DocumentSession) info() DocumentInfo {
	return DocumentInfo{
		DocumentId:        self.id,
		Name:              self.document.Name(),
		Editors:           uint32(self.editors),
		MaxEditors:        uint32(self.maxEditors),
		Observers:         uint32(self.observers),
		MaxObservers:      uint32(self.maxObservers),
		PasswordProtected: 0 < len(self.passwordHash),
	}
}

// must hold the host state lock
func (self *DocumentSession) participant(connectionId Id) *participant {
	for _, p := range self.participants {
		if p.conn.Id() == connectionId {
			return p
		}
	}
	return nil
}

// must hold the host state lock
func (self *DocumentSession) hasCapacity(role Role) bool {
	switch role {
	case RoleEditor:
		return self.editors < self.maxEditors
	case RoleObserver:
		return self.observers < self.maxObservers
	default:
		return false
	}
}

// must hold the host state lock
func (self *DocumentSession) add(p *participant) {
	self.participants = append(self.participants, p)
	switch p.role {
	case RoleEditor:
		self.editors += 1
	case RoleObserver:
		self.observers += 1
	}
}

// must hold the host state lock
func (self *DocumentSession) remove(connectionId Id) *participant {
	i := slices.IndexFunc(self.participants, func(p *participant) bool {
		return p.conn.Id() == connectionId
	})
	if i < 0 {
		return nil
	}
	p := self.participants[i]
	self.participants = slices.Delete(self.participants, i, i+1)
	delete(self.cursors, connectionId)
	switch p.role {
	case RoleEditor:
		self.editors -= 1
	case RoleObserver:
		self.observers -= 1
	}
	return p
}

// must hold the host state lock
func (self *DocumentSession) connections(except ...Id) []Connection {
	conns := []Connection{}
	for _, p := range self.participants {
		if slices.Contains(except, p.conn.Id()) {
			continue
		}
		conns = append(conns, p.conn)
	}
	return conns
}

// must hold the host state lock
func (self *DocumentSession) participantList() []Participant {
	participants := []Participant{}
	for _, p := range self.participants {
		participants = append(participants, p.Participant())
	}
	return participants
}

// must hold the host state lock
func (self *DocumentSession) cursorList() []CursorPosition {
	cursors := []CursorPosition{}
	for _, p := range self.participants {
		if position, ok := self.cursors[p.conn.Id()]; ok {
			cursors = append(cursors, CursorPosition{
				ConnectionId: p.conn.Id(),
				Position:     position,
			})
		}
	}
	return cursors
}
