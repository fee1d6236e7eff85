package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// Snapshots use the protobuf wire format directly (no generated messages) so that a peer can
// skip fields it does not know. Field numbers are stable.

const (
	moduleName       protowire.Number = 1
	moduleChannel    protowire.Number = 2
	modulePattern    protowire.Number = 3
	moduleSample     protowire.Number = 4
	moduleInstrument protowire.Number = 5
	moduleSequence   protowire.Number = 6
	modulePlugin     protowire.Number = 7
)

const cellByteCount = 6
const envelopePointByteCount = 3

var errSnapshotField = errors.New("invalid snapshot field")

func (self *Module) Snapshot() ([]byte, error) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	b := []byte{}
	b = appendString(b, moduleName, self.name)
	for _, channel := range self.channels {
		b = appendMessage(b, moduleChannel, marshalChannel(channel))
	}
	for _, p := range self.patterns {
		b = appendMessage(b, modulePattern, marshalPattern(p))
	}
	for _, s := range self.samples {
		b = appendMessage(b, moduleSample, marshalSample(s))
	}
	for _, instrument := range self.instruments {
		b = appendMessage(b, moduleInstrument, marshalInstrument(instrument))
	}
	for _, sequence := range self.sequences {
		b = appendMessage(b, moduleSequence, marshalSequence(sequence))
	}
	for _, parameters := range self.plugins {
		b = appendMessage(b, modulePlugin, marshalPlugin(parameters))
	}
	return b, nil
}

// replaces the module contents. Views are notified with `HintAll`.
func (self *Module) Restore(snapshot []byte) error {
	next := &Module{}
	err := walkFields(snapshot, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case moduleName:
			next.name = string(b)
		case moduleChannel:
			channel, err := unmarshalChannel(b)
			if err != nil {
				return err
			}
			next.channels = append(next.channels, channel)
		case modulePattern:
			p, err := unmarshalPattern(b)
			if err != nil {
				return err
			}
			next.patterns = append(next.patterns, p)
		case moduleSample:
			s, err := unmarshalSample(b)
			if err != nil {
				return err
			}
			next.samples = append(next.samples, s)
		case moduleInstrument:
			instrument, err := unmarshalInstrument(b)
			if err != nil {
				return err
			}
			next.instruments = append(next.instruments, instrument)
		case moduleSequence:
			sequence, err := unmarshalSequence(b)
			if err != nil {
				return err
			}
			next.sequences = append(next.sequences, sequence)
		case modulePlugin:
			parameters, err := unmarshalPlugin(b)
			if err != nil {
				return err
			}
			next.plugins = append(next.plugins, parameters)
		}
		return nil
	})
	if err != nil {
		return err
	}
	channelCount := len(next.channels)
	for i, p := range next.patterns {
		if p.rows < 0 || (0 < channelCount && len(p.cells)/channelCount < p.rows) || len(p.cells) != p.rows*channelCount {
			return fmt.Errorf("pattern %d has %d cells for %d rows and %d channels", i, len(p.cells), p.rows, len(next.channels))
		}
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.name = next.name
		self.channels = next.channels
		self.patterns = next.patterns
		self.samples = next.samples
		self.instruments = next.instruments
		self.sequences = next.sequences
		self.plugins = next.plugins
		self.modified = false
	}()
	self.NotifyChanged(UpdateHint{Kind: HintAll})
	return nil
}

func marshalChannel(channel ChannelSettings) []byte {
	b := []byte{}
	b = appendString(b, 1, channel.Name)
	b = appendVarint(b, 2, uint64(channel.Volume))
	b = appendVarint(b, 3, uint64(channel.Pan))
	b = appendBool(b, 4, channel.Muted)
	b = appendBool(b, 5, channel.Surround)
	b = appendVarint(b, 6, uint64(channel.MixPlugin))
	return b
}

func unmarshalChannel(m []byte) (channel ChannelSettings, err error) {
	err = walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			channel.Name = string(b)
		case 2:
			channel.Volume = uint8(v)
		case 3:
			channel.Pan = uint16(v)
		case 4:
			channel.Muted = v != 0
		case 5:
			channel.Surround = v != 0
		case 6:
			channel.MixPlugin = uint8(v)
		}
		return nil
	})
	return
}

func marshalPattern(p *pattern) []byte {
	b := []byte{}
	b = appendString(b, 1, p.name)
	b = appendVarint(b, 2, uint64(p.rows))
	cellBytes := make([]byte, 0, cellByteCount*len(p.cells))
	for _, cell := range p.cells {
		cellBytes = append(cellBytes, cell.Note, cell.Instrument, cell.VolumeCommand, cell.Volume, cell.Command, cell.Param)
	}
	b = appendMessage(b, 3, cellBytes)
	return b
}

func unmarshalPattern(m []byte) (*pattern, error) {
	p := &pattern{}
	err := walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			p.name = string(b)
		case 2:
			p.rows = int(v)
		case 3:
			if len(b)%cellByteCount != 0 {
				return errSnapshotField
			}
			p.cells = make([]Cell, 0, len(b)/cellByteCount)
			for i := 0; i < len(b); i += cellByteCount {
				p.cells = append(p.cells, Cell{
					Note:          b[i],
					Instrument:    b[i+1],
					VolumeCommand: b[i+2],
					Volume:        b[i+3],
					Command:       b[i+4],
					Param:         b[i+5],
				})
			}
		}
		return nil
	})
	return p, err
}

func marshalSample(s *sampleSlot) []byte {
	b := []byte{}
	b = appendString(b, 1, s.sample.Name)
	b = appendVarint(b, 2, uint64(s.sample.LoopStart))
	b = appendVarint(b, 3, uint64(s.sample.LoopEnd))
	b = appendVarint(b, 4, uint64(s.sample.SustainStart))
	b = appendVarint(b, 5, uint64(s.sample.SustainEnd))
	b = appendVarint(b, 6, uint64(s.sample.C5Speed))
	b = appendVarint(b, 7, uint64(s.sample.Volume))
	b = appendVarint(b, 8, uint64(s.sample.GlobalVolume))
	b = appendVarint(b, 9, uint64(s.sample.Pan))
	b = appendVarint(b, 10, uint64(s.sample.Flags))
	b = appendVarint(b, 11, uint64(s.sample.VibratoType))
	b = appendVarint(b, 12, uint64(s.sample.VibratoSweep))
	b = appendVarint(b, 13, uint64(s.sample.VibratoDepth))
	b = appendVarint(b, 14, uint64(s.sample.VibratoRate))
	b = appendMessage(b, 15, s.data)
	return b
}

func unmarshalSample(m []byte) (*sampleSlot, error) {
	s := &sampleSlot{}
	err := walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			s.sample.Name = string(b)
		case 2:
			s.sample.LoopStart = uint32(v)
		case 3:
			s.sample.LoopEnd = uint32(v)
		case 4:
			s.sample.SustainStart = uint32(v)
		case 5:
			s.sample.SustainEnd = uint32(v)
		case 6:
			s.sample.C5Speed = uint32(v)
		case 7:
			s.sample.Volume = uint16(v)
		case 8:
			s.sample.GlobalVolume = uint16(v)
		case 9:
			s.sample.Pan = uint16(v)
		case 10:
			s.sample.Flags = SampleFlags(v)
		case 11:
			s.sample.VibratoType = uint8(v)
		case 12:
			s.sample.VibratoSweep = uint8(v)
		case 13:
			s.sample.VibratoDepth = uint8(v)
		case 14:
			s.sample.VibratoRate = uint8(v)
		case 15:
			s.data = slices.Clone(b)
		}
		return nil
	})
	return s, err
}

func marshalInstrument(slot *instrumentSlot) []byte {
	instrument := slot.instrument
	b := []byte{}
	b = appendString(b, 1, instrument.Name)
	b = appendVarint(b, 2, uint64(instrument.FadeOut))
	b = appendVarint(b, 3, uint64(instrument.GlobalVolume))
	b = appendVarint(b, 4, uint64(instrument.Pan))
	b = appendVarint(b, 5, uint64(instrument.NewNoteAction))
	b = appendVarint(b, 6, uint64(instrument.DuplicateCheckType))
	b = appendVarint(b, 7, uint64(instrument.DuplicateNoteAction))
	b = appendVarint(b, 8, uint64(instrument.MidiChannel))
	b = appendVarint(b, 9, uint64(instrument.MidiProgram))
	b = appendVarint(b, 10, uint64(instrument.PluginSlot))
	b = appendMessage(b, 11, instrument.SampleMap[:])
	for _, envelope := range slot.envelopes {
		b = appendMessage(b, 12, marshalEnvelope(envelope))
	}
	return b
}

func unmarshalInstrument(m []byte) (*instrumentSlot, error) {
	slot := &instrumentSlot{}
	envelopeCount := 0
	err := walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			slot.instrument.Name = string(b)
		case 2:
			slot.instrument.FadeOut = uint32(v)
		case 3:
			slot.instrument.GlobalVolume = uint32(v)
		case 4:
			slot.instrument.Pan = uint32(v)
		case 5:
			slot.instrument.NewNoteAction = uint8(v)
		case 6:
			slot.instrument.DuplicateCheckType = uint8(v)
		case 7:
			slot.instrument.DuplicateNoteAction = uint8(v)
		case 8:
			slot.instrument.MidiChannel = uint8(v)
		case 9:
			slot.instrument.MidiProgram = uint8(v)
		case 10:
			slot.instrument.PluginSlot = uint8(v)
		case 11:
			if len(b) != NoteCount {
				return errSnapshotField
			}
			copy(slot.instrument.SampleMap[:], b)
		case 12:
			if int(EnvelopeTypeCount) <= envelopeCount {
				return errSnapshotField
			}
			envelope, err := unmarshalEnvelope(b)
			if err != nil {
				return err
			}
			slot.envelopes[envelopeCount] = envelope
			envelopeCount += 1
		}
		return nil
	})
	return slot, err
}

func marshalEnvelope(envelope Envelope) []byte {
	b := []byte{}
	b = appendVarint(b, 1, uint64(envelope.Flags))
	b = appendVarint(b, 2, uint64(envelope.LoopStart))
	b = appendVarint(b, 3, uint64(envelope.LoopEnd))
	b = appendVarint(b, 4, uint64(envelope.SustainStart))
	b = appendVarint(b, 5, uint64(envelope.SustainEnd))
	pointBytes := make([]byte, 0, envelopePointByteCount*len(envelope.Points))
	for _, point := range envelope.Points {
		pointBytes = binary.LittleEndian.AppendUint16(pointBytes, point.Tick)
		pointBytes = append(pointBytes, point.Value)
	}
	b = appendMessage(b, 6, pointBytes)
	return b
}

func unmarshalEnvelope(m []byte) (envelope Envelope, err error) {
	err = walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			envelope.Flags = EnvelopeFlags(v)
		case 2:
			envelope.LoopStart = uint8(v)
		case 3:
			envelope.LoopEnd = uint8(v)
		case 4:
			envelope.SustainStart = uint8(v)
		case 5:
			envelope.SustainEnd = uint8(v)
		case 6:
			if len(b)%envelopePointByteCount != 0 {
				return errSnapshotField
			}
			for i := 0; i < len(b); i += envelopePointByteCount {
				envelope.Points = append(envelope.Points, EnvelopePoint{
					Tick:  binary.LittleEndian.Uint16(b[i : i+2]),
					Value: b[i+2],
				})
			}
		}
		return nil
	})
	return
}

func marshalSequence(sequence Sequence) []byte {
	b := []byte{}
	b = appendString(b, 1, sequence.Name)
	b = appendVarint(b, 2, uint64(sequence.RestartPosition))
	orderBytes := []byte{}
	for _, order := range sequence.Orders {
		orderBytes = protowire.AppendVarint(orderBytes, uint64(order))
	}
	b = appendMessage(b, 3, orderBytes)
	return b
}

func unmarshalSequence(m []byte) (sequence Sequence, err error) {
	err = walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			sequence.Name = string(b)
		case 2:
			sequence.RestartPosition = uint32(v)
		case 3:
			for 0 < len(b) {
				order, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return protowire.ParseError(n)
				}
				sequence.Orders = append(sequence.Orders, uint16(order))
				b = b[n:]
			}
		}
		return nil
	})
	return
}

func marshalPlugin(parameters []float32) []byte {
	parameterBytes := make([]byte, 0, 4*len(parameters))
	for _, parameter := range parameters {
		parameterBytes = protowire.AppendFixed32(parameterBytes, math.Float32bits(parameter))
	}
	return appendMessage([]byte{}, 1, parameterBytes)
}

func unmarshalPlugin(m []byte) (parameters []float32, err error) {
	parameters = []float32{}
	err = walkFields(m, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case 1:
			for 0 < len(b) {
				bits, n := protowire.ConsumeFixed32(b)
				if n < 0 {
					return protowire.ParseError(n)
				}
				parameters = append(parameters, math.Float32frombits(bits))
				b = b[n:]
			}
		}
		return nil
	})
	return
}

func appendString(b []byte, num protowire.Number, value string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

func appendMessage(b []byte, num protowire.Number, value []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, value)
}

func appendVarint(b []byte, num protowire.Number, value uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, value)
}

func appendBool(b []byte, num protowire.Number, value bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(value))
}

// visits varint and length-delimited fields. Other wire types are skipped.
func walkFields(m []byte, visit func(num protowire.Number, v uint64, b []byte) error) error {
	for 0 < len(m) {
		num, typ, n := protowire.ConsumeTag(m)
		if n < 0 {
			return protowire.ParseError(n)
		}
		m = m[n:]
		var v uint64
		var b []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(m)
		case protowire.BytesType:
			b, n = protowire.ConsumeBytes(m)
		default:
			n = protowire.ConsumeFieldValue(num, typ, m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m = m[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		m = m[n:]
		if err := visit(num, v, b); err != nil {
			return err
		}
	}
	return nil
}
