// Package model is an in-memory tracker module used as the external document model of a
// collaborative session. It holds patterns, samples, instruments, sequences, channel settings
// and plugin parameters, and exposes the accessor and notify hooks the session core needs.
package model

import (
	"slices"
)

// notes per instrument sample map
const NoteCount = 120

// comparable
type Cell struct {
	Note          uint8
	Instrument    uint8
	VolumeCommand uint8
	Volume        uint8
	Command       uint8
	Param         uint8
}

func (self Cell) IsEmpty() bool {
	return self == Cell{}
}

type SampleFlags = uint16

const (
	SampleLoop SampleFlags = 1 << iota
	SampleSustainLoop
	SamplePingPongLoop
	SamplePingPongSustain
	Sample16Bit
	SampleStereo
)

// comparable
type Sample struct {
	Name         string
	LoopStart    uint32
	LoopEnd      uint32
	SustainStart uint32
	SustainEnd   uint32
	C5Speed      uint32
	Volume       uint16
	GlobalVolume uint16
	Pan          uint16
	Flags        SampleFlags
	VibratoType  uint8
	VibratoSweep uint8
	VibratoDepth uint8
	VibratoRate  uint8
}

// comparable
type Instrument struct {
	Name                string
	FadeOut             uint32
	GlobalVolume        uint32
	Pan                 uint32
	NewNoteAction       uint8
	DuplicateCheckType  uint8
	DuplicateNoteAction uint8
	MidiChannel         uint8
	MidiProgram         uint8
	PluginSlot          uint8
	SampleMap           [NoteCount]uint8
}

type EnvelopeType uint8

const (
	EnvelopeVolume EnvelopeType = iota
	EnvelopePanning
	EnvelopePitch
	EnvelopeTypeCount
)

func (self EnvelopeType) String() string {
	switch self {
	case EnvelopeVolume:
		return "volume"
	case EnvelopePanning:
		return "panning"
	case EnvelopePitch:
		return "pitch"
	default:
		return "unknown"
	}
}

type EnvelopeFlags = uint8

const (
	EnvelopeEnabled EnvelopeFlags = 1 << iota
	EnvelopeLoop
	EnvelopeSustain
	EnvelopeCarry
)

// comparable
type EnvelopePoint struct {
	Tick  uint16
	Value uint8
}

type Envelope struct {
	Flags        EnvelopeFlags
	LoopStart    uint8
	LoopEnd      uint8
	SustainStart uint8
	SustainEnd   uint8
	Points       []EnvelopePoint
}

func (self Envelope) Clone() Envelope {
	self.Points = slices.Clone(self.Points)
	return self
}

func (self Envelope) Equal(b Envelope) bool {
	return self.Flags == b.Flags &&
		self.LoopStart == b.LoopStart &&
		self.LoopEnd == b.LoopEnd &&
		self.SustainStart == b.SustainStart &&
		self.SustainEnd == b.SustainEnd &&
		slices.Equal(self.Points, b.Points)
}

type Sequence struct {
	Name            string
	RestartPosition uint32
	Orders          []uint16
}

func (self Sequence) Clone() Sequence {
	self.Orders = slices.Clone(self.Orders)
	return self
}

// comparable
type ChannelSettings struct {
	Name      string
	Volume    uint8
	Pan       uint16
	Muted     bool
	Surround  bool
	MixPlugin uint8
}

type HintKind int

const (
	HintAll HintKind = iota
	HintPattern
	HintSample
	HintSampleData
	HintInstrument
	HintEnvelope
	HintSequence
	HintChannel
	HintPlugin
)

func (self HintKind) String() string {
	switch self {
	case HintAll:
		return "all"
	case HintPattern:
		return "pattern"
	case HintSample:
		return "sample"
	case HintSampleData:
		return "sample_data"
	case HintInstrument:
		return "instrument"
	case HintEnvelope:
		return "envelope"
	case HintSequence:
		return "sequence"
	case HintChannel:
		return "channel"
	case HintPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// a range hint for views. `Id` is the pattern, sample, instrument, sequence, channel or plugin index
type UpdateHint struct {
	Kind HintKind
	Id   int
}
