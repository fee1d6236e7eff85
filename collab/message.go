package collab

import (
	"encoding/binary"
	"fmt"

	"github.com/bringyour/collab/collab/model"
)

// the message catalog. Every message is encoded as `tag u32` followed by kind specific fields,
// all little endian. See wire.go for the primitive encodings.

type MessageKind uint32

const (
	MessageKindPing                 MessageKind = 1
	MessageKindListSessions         MessageKind = 2
	MessageKindSessionList          MessageKind = 3
	MessageKindJoinSession          MessageKind = 4
	MessageKindJoinAccepted         MessageKind = 5
	MessageKindJoinRejected         MessageKind = 6
	MessageKindLeaveSession         MessageKind = 7
	MessageKindParticipantUpdate    MessageKind = 8
	MessageKindPatternDelta         MessageKind = 16
	MessageKindSamplePropertyDelta  MessageKind = 17
	MessageKindSampleDataDelta      MessageKind = 18
	MessageKindInstrumentDelta      MessageKind = 19
	MessageKindEnvelopeDelta        MessageKind = 20
	MessageKindSequenceDelta        MessageKind = 21
	MessageKindChannelDelta         MessageKind = 22
	MessageKindPluginParameterDelta MessageKind = 23
	MessageKindCursorPosition       MessageKind = 32
	MessageKindChatMessage          MessageKind = 33
	MessageKindSessionClosing       MessageKind = 34
	MessageKindRoundTripRequest     MessageKind = 48
	MessageKindRoundTripResponse    MessageKind = 49
)

func (self MessageKind) String() string {
	switch self {
	case MessageKindPing:
		return "ping"
	case MessageKindListSessions:
		return "list_sessions"
	case MessageKindSessionList:
		return "session_list"
	case MessageKindJoinSession:
		return "join_session"
	case MessageKindJoinAccepted:
		return "join_accepted"
	case MessageKindJoinRejected:
		return "join_rejected"
	case MessageKindLeaveSession:
		return "leave_session"
	case MessageKindParticipantUpdate:
		return "participant_update"
	case MessageKindPatternDelta:
		return "pattern_delta"
	case MessageKindSamplePropertyDelta:
		return "sample_property_delta"
	case MessageKindSampleDataDelta:
		return "sample_data_delta"
	case MessageKindInstrumentDelta:
		return "instrument_delta"
	case MessageKindEnvelopeDelta:
		return "envelope_delta"
	case MessageKindSequenceDelta:
		return "sequence_delta"
	case MessageKindChannelDelta:
		return "channel_delta"
	case MessageKindPluginParameterDelta:
		return "plugin_parameter_delta"
	case MessageKindCursorPosition:
		return "cursor_position"
	case MessageKindChatMessage:
		return "chat_message"
	case MessageKindSessionClosing:
		return "session_closing"
	case MessageKindRoundTripRequest:
		return "round_trip_request"
	case MessageKindRoundTripResponse:
		return "round_trip_response"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(self))
	}
}

// all implementations are in this package
type Message interface {
	marshal(w *wireWriter)
	unmarshal(r *wireReader)
}

type Role uint8

const (
	RoleEditor   Role = 0
	RoleObserver Role = 1
)

func (self Role) String() string {
	switch self {
	case RoleEditor:
		return "editor"
	case RoleObserver:
		return "observer"
	default:
		return "unknown"
	}
}

type JoinOutcome uint8

const (
	JoinOutcomeAccepted        JoinOutcome = 0
	JoinOutcomeNotFound        JoinOutcome = 1
	JoinOutcomeWrongPassword   JoinOutcome = 2
	JoinOutcomeRoleFull        JoinOutcome = 3
	JoinOutcomeTooManyAttempts JoinOutcome = 4
)

func (self JoinOutcome) String() string {
	switch self {
	case JoinOutcomeAccepted:
		return "accepted"
	case JoinOutcomeNotFound:
		return "not_found"
	case JoinOutcomeWrongPassword:
		return "wrong_password"
	case JoinOutcomeRoleFull:
		return "role_full"
	case JoinOutcomeTooManyAttempts:
		return "too_many_attempts"
	default:
		return "unknown"
	}
}

// a joinable session as listed to clients
type DocumentInfo struct {
	DocumentId        Id
	Name              string
	Editors           uint32
	MaxEditors        uint32
	Observers         uint32
	MaxObservers      uint32
	PasswordProtected bool
}

func (self *DocumentInfo) marshal(w *wireWriter) {
	w.id(self.DocumentId)
	w.str(self.Name)
	w.u32(self.Editors)
	w.u32(self.MaxEditors)
	w.u32(self.Observers)
	w.u32(self.MaxObservers)
	w.boolean(self.PasswordProtected)
}

func (self *DocumentInfo) unmarshal(r *wireReader) {
	self.DocumentId = r.id()
	self.Name = r.str()
	self.Editors = r.u32()
	self.MaxEditors = r.u32()
	self.Observers = r.u32()
	self.MaxObservers = r.u32()
	self.PasswordProtected = r.boolean()
}

type Participant struct {
	ConnectionId Id
	Name         string
	Role         Role
}

func (self *Participant) marshal(w *wireWriter) {
	w.id(self.ConnectionId)
	w.str(self.Name)
	w.u8(uint8(self.Role))
}

func (self *Participant) unmarshal(r *wireReader) {
	self.ConnectionId = r.id()
	self.Name = r.str()
	self.Role = Role(r.u8())
}

// an edit position in the pattern editor
// comparable
type Position struct {
	Pattern uint32
	Row     uint32
	Channel uint32
	Column  uint32
}

type Ping struct{}

func (self *Ping) marshal(w *wireWriter)   {}
func (self *Ping) unmarshal(r *wireReader) {}

type ListSessions struct{}

func (self *ListSessions) marshal(w *wireWriter)   {}
func (self *ListSessions) unmarshal(r *wireReader) {}

type SessionList struct {
	Sessions []DocumentInfo
}

func (self *SessionList) marshal(w *wireWriter) {
	w.u32(uint32(len(self.Sessions)))
	for i := range self.Sessions {
		self.Sessions[i].marshal(w)
	}
}

func (self *SessionList) unmarshal(r *wireReader) {
	n := r.count(16 + 4 + 16 + 1)
	self.Sessions = nil
	for i := 0; i < n; i += 1 {
		var info DocumentInfo
		info.unmarshal(r)
		self.Sessions = append(self.Sessions, info)
	}
}

type JoinSession struct {
	DocumentId Id
	Password   string
	Role       Role
	UserName   string
}

func (self *JoinSession) marshal(w *wireWriter) {
	w.id(self.DocumentId)
	w.str(self.Password)
	w.u8(uint8(self.Role))
	w.str(self.UserName)
}

func (self *JoinSession) unmarshal(r *wireReader) {
	self.DocumentId = r.id()
	self.Password = r.str()
	self.Role = Role(r.u8())
	self.UserName = r.str()
}

type JoinAccepted struct {
	// the id the host assigned to the joining connection
	ConnectionId     Id
	DocumentId       Id
	Role             Role
	Name             string
	DocumentSnapshot []byte
	Participants     []Participant
	Cursors          []CursorPosition
}

func (self *JoinAccepted) marshal(w *wireWriter) {
	w.id(self.ConnectionId)
	w.id(self.DocumentId)
	w.u8(uint8(self.Role))
	w.str(self.Name)
	w.bytes(self.DocumentSnapshot)
	w.u32(uint32(len(self.Participants)))
	for i := range self.Participants {
		self.Participants[i].marshal(w)
	}
	w.u32(uint32(len(self.Cursors)))
	for i := range self.Cursors {
		self.Cursors[i].marshal(w)
	}
}

func (self *JoinAccepted) unmarshal(r *wireReader) {
	self.ConnectionId = r.id()
	self.DocumentId = r.id()
	self.Role = Role(r.u8())
	self.Name = r.str()
	self.DocumentSnapshot = r.bytes()
	self.Participants = nil
	n := r.count(16 + 4 + 1)
	for i := 0; i < n; i += 1 {
		var participant Participant
		participant.unmarshal(r)
		self.Participants = append(self.Participants, participant)
	}
	self.Cursors = nil
	n = r.count(16 + 16)
	for i := 0; i < n; i += 1 {
		var cursor CursorPosition
		cursor.unmarshal(r)
		self.Cursors = append(self.Cursors, cursor)
	}
}

type JoinRejected struct {
	Reason JoinOutcome
}

func (self *JoinRejected) marshal(w *wireWriter) {
	w.u8(uint8(self.Reason))
}

func (self *JoinRejected) unmarshal(r *wireReader) {
	self.Reason = JoinOutcome(r.u8())
}

type LeaveSession struct{}

func (self *LeaveSession) marshal(w *wireWriter)   {}
func (self *LeaveSession) unmarshal(r *wireReader) {}

type ParticipantUpdate struct {
	Participant Participant
	// false when the participant left
	Joined bool
}

func (self *ParticipantUpdate) marshal(w *wireWriter) {
	self.Participant.marshal(w)
	w.boolean(self.Joined)
}

func (self *ParticipantUpdate) unmarshal(r *wireReader) {
	self.Participant.unmarshal(r)
	self.Joined = r.boolean()
}

// comparable
type CellDelta struct {
	Mask CellMask
	Cell model.Cell
}

const cellDeltaByteCount = 7

// a rectangular range of pattern cells in row major order.
// cells with a zero mask inside the range are unchanged.
type PatternDelta struct {
	PatternId    uint32
	RowStart     uint32
	RowCount     uint32
	ChannelStart uint32
	ChannelCount uint32
	Cells        []CellDelta
}

func (self *PatternDelta) marshal(w *wireWriter) {
	w.u32(self.PatternId)
	w.u32(self.RowStart)
	w.u32(self.RowCount)
	w.u32(self.ChannelStart)
	w.u32(self.ChannelCount)
	w.u32(uint32(len(self.Cells)))
	for _, cell := range self.Cells {
		w.u8(uint8(cell.Mask))
		w.u8(cell.Cell.Note)
		w.u8(cell.Cell.Instrument)
		w.u8(cell.Cell.VolumeCommand)
		w.u8(cell.Cell.Volume)
		w.u8(cell.Cell.Command)
		w.u8(cell.Cell.Param)
	}
}

func (self *PatternDelta) unmarshal(r *wireReader) {
	self.PatternId = r.u32()
	self.RowStart = r.u32()
	self.RowCount = r.u32()
	self.ChannelStart = r.u32()
	self.ChannelCount = r.u32()
	n := r.count(cellDeltaByteCount)
	if r.err != nil {
		return
	}
	if uint64(n) != uint64(self.RowCount)*uint64(self.ChannelCount) {
		r.err = ErrMalformedMessage
		return
	}
	self.Cells = nil
	if 0 < n {
		self.Cells = make([]CellDelta, n)
	}
	for i := 0; i < n; i += 1 {
		self.Cells[i] = CellDelta{
			Mask: CellMask(r.u8()),
			Cell: model.Cell{
				Note:          r.u8(),
				Instrument:    r.u8(),
				VolumeCommand: r.u8(),
				Volume:        r.u8(),
				Command:       r.u8(),
				Param:         r.u8(),
			},
		}
	}
}

type SamplePropertyDelta struct {
	SampleId uint32
	Mask     SampleMask
	Sample   model.Sample
}

func (self *SamplePropertyDelta) marshal(w *wireWriter) {
	w.u32(self.SampleId)
	w.u32(uint32(self.Mask))
	s := &self.Sample
	w.str(s.Name)
	w.u32(s.LoopStart)
	w.u32(s.LoopEnd)
	w.u32(s.SustainStart)
	w.u32(s.SustainEnd)
	w.u32(s.C5Speed)
	w.u16(s.Volume)
	w.u16(s.GlobalVolume)
	w.u16(s.Pan)
	w.u16(s.Flags)
	w.u8(s.VibratoType)
	w.u8(s.VibratoSweep)
	w.u8(s.VibratoDepth)
	w.u8(s.VibratoRate)
}

func (self *SamplePropertyDelta) unmarshal(r *wireReader) {
	self.SampleId = r.u32()
	self.Mask = SampleMask(r.u32())
	s := &self.Sample
	s.Name = r.str()
	s.LoopStart = r.u32()
	s.LoopEnd = r.u32()
	s.SustainStart = r.u32()
	s.SustainEnd = r.u32()
	s.C5Speed = r.u32()
	s.Volume = r.u16()
	s.GlobalVolume = r.u16()
	s.Pan = r.u16()
	s.Flags = r.u16()
	s.VibratoType = r.u8()
	s.VibratoSweep = r.u8()
	s.VibratoDepth = r.u8()
	s.VibratoRate = r.u8()
}

// replaces the whole waveform of a sample
type SampleDataDelta struct {
	SampleId uint32
	Data     []byte
}

func (self *SampleDataDelta) marshal(w *wireWriter) {
	w.u32(self.SampleId)
	w.bytes(self.Data)
}

func (self *SampleDataDelta) unmarshal(r *wireReader) {
	self.SampleId = r.u32()
	self.Data = r.bytes()
}

type InstrumentDelta struct {
	InstrumentId uint32
	Mask         InstrumentMask
	Instrument   model.Instrument
}

func (self *InstrumentDelta) marshal(w *wireWriter) {
	w.u32(self.InstrumentId)
	w.u32(uint32(self.Mask))
	i := &self.Instrument
	w.str(i.Name)
	w.u32(i.FadeOut)
	w.u32(i.GlobalVolume)
	w.u32(i.Pan)
	w.u8(i.NewNoteAction)
	w.u8(i.DuplicateCheckType)
	w.u8(i.DuplicateNoteAction)
	w.u8(i.MidiChannel)
	w.u8(i.MidiProgram)
	w.u8(i.PluginSlot)
	w.b = append(w.b, i.SampleMap[:]...)
}

func (self *InstrumentDelta) unmarshal(r *wireReader) {
	self.InstrumentId = r.u32()
	self.Mask = InstrumentMask(r.u32())
	i := &self.Instrument
	i.Name = r.str()
	i.FadeOut = r.u32()
	i.GlobalVolume = r.u32()
	i.Pan = r.u32()
	i.NewNoteAction = r.u8()
	i.DuplicateCheckType = r.u8()
	i.DuplicateNoteAction = r.u8()
	i.MidiChannel = r.u8()
	i.MidiProgram = r.u8()
	i.PluginSlot = r.u8()
	copy(i.SampleMap[:], r.take(model.NoteCount))
}

// replaces one envelope of an instrument
type EnvelopeDelta struct {
	InstrumentId uint32
	EnvelopeType model.EnvelopeType
	Envelope     model.Envelope
}

func (self *EnvelopeDelta) marshal(w *wireWriter) {
	w.u32(self.InstrumentId)
	w.u8(uint8(self.EnvelopeType))
	e := &self.Envelope
	w.u8(e.Flags)
	w.u8(e.LoopStart)
	w.u8(e.LoopEnd)
	w.u8(e.SustainStart)
	w.u8(e.SustainEnd)
	w.u32(uint32(len(e.Points)))
	for _, point := range e.Points {
		w.u16(point.Tick)
		w.u8(point.Value)
	}
}

func (self *EnvelopeDelta) unmarshal(r *wireReader) {
	self.InstrumentId = r.u32()
	self.EnvelopeType = model.EnvelopeType(r.u8())
	e := &self.Envelope
	e.Flags = r.u8()
	e.LoopStart = r.u8()
	e.LoopEnd = r.u8()
	e.SustainStart = r.u8()
	e.SustainEnd = r.u8()
	e.Points = nil
	n := r.count(3)
	for i := 0; i < n; i += 1 {
		e.Points = append(e.Points, model.EnvelopePoint{
			Tick:  r.u16(),
			Value: r.u8(),
		})
	}
}

type SequenceDelta struct {
	SequenceId uint32
	Mask       SequenceMask
	Sequence   model.Sequence
}

func (self *SequenceDelta) marshal(w *wireWriter) {
	w.u32(self.SequenceId)
	w.u8(uint8(self.Mask))
	w.str(self.Sequence.Name)
	w.u32(self.Sequence.RestartPosition)
	w.u32(uint32(len(self.Sequence.Orders)))
	for _, order := range self.Sequence.Orders {
		w.u16(order)
	}
}

func (self *SequenceDelta) unmarshal(r *wireReader) {
	self.SequenceId = r.u32()
	self.Mask = SequenceMask(r.u8())
	self.Sequence.Name = r.str()
	self.Sequence.RestartPosition = r.u32()
	self.Sequence.Orders = nil
	n := r.count(2)
	for i := 0; i < n; i += 1 {
		self.Sequence.Orders = append(self.Sequence.Orders, r.u16())
	}
}

type ChannelDelta struct {
	Channel  uint32
	Mask     ChannelMask
	Settings model.ChannelSettings
}

func (self *ChannelDelta) marshal(w *wireWriter) {
	w.u32(self.Channel)
	w.u8(uint8(self.Mask))
	s := &self.Settings
	w.str(s.Name)
	w.u8(s.Volume)
	w.u16(s.Pan)
	w.boolean(s.Muted)
	w.boolean(s.Surround)
	w.u8(s.MixPlugin)
}

func (self *ChannelDelta) unmarshal(r *wireReader) {
	self.Channel = r.u32()
	self.Mask = ChannelMask(r.u8())
	s := &self.Settings
	s.Name = r.str()
	s.Volume = r.u8()
	s.Pan = r.u16()
	s.Muted = r.boolean()
	s.Surround = r.boolean()
	s.MixPlugin = r.u8()
}

// comparable
type ParameterChange struct {
	Index uint32
	Value float32
}

// only the parameters that changed, in index order
type PluginParameterDelta struct {
	Slot    uint32
	Changes []ParameterChange
}

func (self *PluginParameterDelta) marshal(w *wireWriter) {
	w.u32(self.Slot)
	w.u32(uint32(len(self.Changes)))
	for _, change := range self.Changes {
		w.u32(change.Index)
		w.f32(change.Value)
	}
}

func (self *PluginParameterDelta) unmarshal(r *wireReader) {
	self.Slot = r.u32()
	self.Changes = nil
	n := r.count(8)
	for i := 0; i < n; i += 1 {
		self.Changes = append(self.Changes, ParameterChange{
			Index: r.u32(),
			Value: r.f32(),
		})
	}
}

// the host stamps `ConnectionId` with the sender before relaying
type CursorPosition struct {
	ConnectionId Id
	Position     Position
}

func (self *CursorPosition) marshal(w *wireWriter) {
	w.id(self.ConnectionId)
	w.u32(self.Position.Pattern)
	w.u32(self.Position.Row)
	w.u32(self.Position.Channel)
	w.u32(self.Position.Column)
}

func (self *CursorPosition) unmarshal(r *wireReader) {
	self.ConnectionId = r.id()
	self.Position.Pattern = r.u32()
	self.Position.Row = r.u32()
	self.Position.Channel = r.u32()
	self.Position.Column = r.u32()
}

// the host stamps `ConnectionId` with the sender before relaying
type ChatMessage struct {
	ConnectionId Id
	Text         string
}

func (self *ChatMessage) marshal(w *wireWriter) {
	w.id(self.ConnectionId)
	w.str(self.Text)
}

func (self *ChatMessage) unmarshal(r *wireReader) {
	self.ConnectionId = r.id()
	self.Text = r.str()
}

type SessionClosing struct {
	DocumentId Id
}

func (self *SessionClosing) marshal(w *wireWriter) {
	w.id(self.DocumentId)
}

func (self *SessionClosing) unmarshal(r *wireReader) {
	self.DocumentId = r.id()
}

type RoundTripRequest struct {
	Handle  uint64
	Message Message
}

func (self *RoundTripRequest) marshal(w *wireWriter) {
	w.u64(self.Handle)
	marshalInner(w, self.Message)
}

func (self *RoundTripRequest) unmarshal(r *wireReader) {
	self.Handle = r.u64()
	self.Message = unmarshalInner(r)
}

// `Result` may be nil when the request has no reply body
type RoundTripResponse struct {
	Handle uint64
	Result Message
}

func (self *RoundTripResponse) marshal(w *wireWriter) {
	w.u64(self.Handle)
	marshalInner(w, self.Result)
}

func (self *RoundTripResponse) unmarshal(r *wireReader) {
	self.Handle = r.u64()
	self.Result = unmarshalInner(r)
}

// a nested message is length prefixed. Zero length is a nil message.
func marshalInner(w *wireWriter, message Message) {
	if message == nil {
		w.u32(0)
		return
	}
	lengthOffset := len(w.b)
	w.u32(0)
	start := len(w.b)
	kind, err := MessageKindOf(message)
	if err != nil {
		panic(err)
	}
	w.u32(uint32(kind))
	message.marshal(w)
	patch := wireWriter{}
	patch.u32(uint32(len(w.b) - start))
	copy(w.b[lengthOffset:], patch.b)
}

// a nested message is one level deep. Round trip envelopes never nest.
func unmarshalInner(r *wireReader) Message {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	b := r.take(int(n))
	if r.err != nil {
		return nil
	}
	if 4 <= len(b) {
		switch MessageKind(binary.LittleEndian.Uint32(b)) {
		case MessageKindRoundTripRequest, MessageKindRoundTripResponse:
			r.err = fmt.Errorf("nested round trip: %w", ErrMalformedMessage)
			return nil
		}
	}
	message, err := DecodeMessage(b)
	if err != nil {
		r.err = err
		return nil
	}
	return message
}

func MessageKindOf(message Message) (MessageKind, error) {
	switch v := message.(type) {
	case *Ping:
		return MessageKindPing, nil
	case *ListSessions:
		return MessageKindListSessions, nil
	case *SessionList:
		return MessageKindSessionList, nil
	case *JoinSession:
		return MessageKindJoinSession, nil
	case *JoinAccepted:
		return MessageKindJoinAccepted, nil
	case *JoinRejected:
		return MessageKindJoinRejected, nil
	case *LeaveSession:
		return MessageKindLeaveSession, nil
	case *ParticipantUpdate:
		return MessageKindParticipantUpdate, nil
	case *PatternDelta:
		return MessageKindPatternDelta, nil
	case *SamplePropertyDelta:
		return MessageKindSamplePropertyDelta, nil
	case *SampleDataDelta:
		return MessageKindSampleDataDelta, nil
	case *InstrumentDelta:
		return MessageKindInstrumentDelta, nil
	case *EnvelopeDelta:
		return MessageKindEnvelopeDelta, nil
	case *SequenceDelta:
		return MessageKindSequenceDelta, nil
	case *ChannelDelta:
		return MessageKindChannelDelta, nil
	case *PluginParameterDelta:
		return MessageKindPluginParameterDelta, nil
	case *CursorPosition:
		return MessageKindCursorPosition, nil
	case *ChatMessage:
		return MessageKindChatMessage, nil
	case *SessionClosing:
		return MessageKindSessionClosing, nil
	case *RoundTripRequest:
		return MessageKindRoundTripRequest, nil
	case *RoundTripResponse:
		return MessageKindRoundTripResponse, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownMessageKind, v)
	}
}

func newMessage(kind MessageKind) (Message, error) {
	switch kind {
	case MessageKindPing:
		return &Ping{}, nil
	case MessageKindListSessions:
		return &ListSessions{}, nil
	case MessageKindSessionList:
		return &SessionList{}, nil
	case MessageKindJoinSession:
		return &JoinSession{}, nil
	case MessageKindJoinAccepted:
		return &JoinAccepted{}, nil
	case MessageKindJoinRejected:
		return &JoinRejected{}, nil
	case MessageKindLeaveSession:
		return &LeaveSession{}, nil
	case MessageKindParticipantUpdate:
		return &ParticipantUpdate{}, nil
	case MessageKindPatternDelta:
		return &PatternDelta{}, nil
	case MessageKindSamplePropertyDelta:
		return &SamplePropertyDelta{}, nil
	case MessageKindSampleDataDelta:
		return &SampleDataDelta{}, nil
	case MessageKindInstrumentDelta:
		return &InstrumentDelta{}, nil
	case MessageKindEnvelopeDelta:
		return &EnvelopeDelta{}, nil
	case MessageKindSequenceDelta:
		return &SequenceDelta{}, nil
	case MessageKindChannelDelta:
		return &ChannelDelta{}, nil
	case MessageKindPluginParameterDelta:
		return &PluginParameterDelta{}, nil
	case MessageKindCursorPosition:
		return &CursorPosition{}, nil
	case MessageKindChatMessage:
		return &ChatMessage{}, nil
	case MessageKindSessionClosing:
		return &SessionClosing{}, nil
	case MessageKindRoundTripRequest:
		return &RoundTripRequest{}, nil
	case MessageKindRoundTripResponse:
		return &RoundTripResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageKind, uint32(kind))
	}
}

func EncodeMessage(message Message) ([]byte, error) {
	kind, err := MessageKindOf(message)
	if err != nil {
		return nil, err
	}
	w := &wireWriter{}
	w.u32(uint32(kind))
	message.marshal(w)
	return w.b, nil
}

func RequireEncodeMessage(message Message) []byte {
	b, err := EncodeMessage(message)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeMessage(b []byte) (Message, error) {
	r := &wireReader{b: b}
	kind := MessageKind(r.u32())
	if r.err != nil {
		return nil, r.err
	}
	message, err := newMessage(kind)
	if err != nil {
		return nil, err
	}
	message.unmarshal(r)
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return message, nil
}

func RequireDecodeMessage(b []byte) Message {
	message, err := DecodeMessage(b)
	if err != nil {
		panic(err)
	}
	return message
}
