package collab

import (
	"slices"

	"github.com/bringyour/collab/collab/model"
)

// a change mask marks which named fields of a record differ between two snapshots.
// a mask is always transmitted with the full current record, and a zero mask is never transmitted.

type CellMask uint8

const (
	CellMaskNote CellMask = 1 << iota
	CellMaskInstrument
	CellMaskVolumeCommand
	CellMaskVolume
	CellMaskCommand
	CellMaskParam

	CellMaskAll = CellMaskNote | CellMaskInstrument | CellMaskVolumeCommand | CellMaskVolume | CellMaskCommand | CellMaskParam
)

func CellMaskOf(before model.Cell, after model.Cell) (mask CellMask) {
	if before.Note != after.Note {
		mask |= CellMaskNote
	}
	if before.Instrument != after.Instrument {
		mask |= CellMaskInstrument
	}
	if before.VolumeCommand != after.VolumeCommand {
		mask |= CellMaskVolumeCommand
	}
	if before.Volume != after.Volume {
		mask |= CellMaskVolume
	}
	if before.Command != after.Command {
		mask |= CellMaskCommand
	}
	if before.Param != after.Param {
		mask |= CellMaskParam
	}
	return
}

// copies the masked fields of `src` into `dst`
func MergeCell(dst model.Cell, src model.Cell, mask CellMask) model.Cell {
	if mask&CellMaskNote != 0 {
		dst.Note = src.Note
	}
	if mask&CellMaskInstrument != 0 {
		dst.Instrument = src.Instrument
	}
	if mask&CellMaskVolumeCommand != 0 {
		dst.VolumeCommand = src.VolumeCommand
	}
	if mask&CellMaskVolume != 0 {
		dst.Volume = src.Volume
	}
	if mask&CellMaskCommand != 0 {
		dst.Command = src.Command
	}
	if mask&CellMaskParam != 0 {
		dst.Param = src.Param
	}
	return dst
}

type SampleMask uint32

const (
	SampleMaskName SampleMask = 1 << iota
	SampleMaskLoopStart
	SampleMaskLoopEnd
	SampleMaskSustainStart
	SampleMaskSustainEnd
	SampleMaskC5Speed
	SampleMaskVolume
	SampleMaskGlobalVolume
	SampleMaskPan
	SampleMaskFlags
	SampleMaskVibratoType
	SampleMaskVibratoSweep
	SampleMaskVibratoDepth
	SampleMaskVibratoRate
)

func SampleMaskOf(before model.Sample, after model.Sample) (mask SampleMask) {
	if before.Name != after.Name {
		mask |= SampleMaskName
	}
	if before.LoopStart != after.LoopStart {
		mask |= SampleMaskLoopStart
	}
	if before.LoopEnd != after.LoopEnd {
		mask |= SampleMaskLoopEnd
	}
	if before.SustainStart != after.SustainStart {
		mask |= SampleMaskSustainStart
	}
	if before.SustainEnd != after.SustainEnd {
		mask |= SampleMaskSustainEnd
	}
	if before.C5Speed != after.C5Speed {
		mask |= SampleMaskC5Speed
	}
	if before.Volume != after.Volume {
		mask |= SampleMaskVolume
	}
	if before.GlobalVolume != after.GlobalVolume {
		mask |= SampleMaskGlobalVolume
	}
	if before.Pan != after.Pan {
		mask |= SampleMaskPan
	}
	if before.Flags != after.Flags {
		mask |= SampleMaskFlags
	}
	if before.VibratoType != after.VibratoType {
		mask |= SampleMaskVibratoType
	}
	if before.VibratoSweep != after.VibratoSweep {
		mask |= SampleMaskVibratoSweep
	}
	if before.VibratoDepth != after.VibratoDepth {
		mask |= SampleMaskVibratoDepth
	}
	if before.VibratoRate != after.VibratoRate {
		mask |= SampleMaskVibratoRate
	}
	return
}

func MergeSample(dst model.Sample, src model.Sample, mask SampleMask) model.Sample {
	if mask&SampleMaskName != 0 {
		dst.Name = src.Name
	}
	if mask&SampleMaskLoopStart != 0 {
		dst.LoopStart = src.LoopStart
	}
	if mask&SampleMaskLoopEnd != 0 {
		dst.LoopEnd = src.LoopEnd
	}
	if mask&SampleMaskSustainStart != 0 {
		dst.SustainStart = src.SustainStart
	}
	if mask&SampleMaskSustainEnd != 0 {
		dst.SustainEnd = src.SustainEnd
	}
	if mask&SampleMaskC5Speed != 0 {
		dst.C5Speed = src.C5Speed
	}
	if mask&SampleMaskVolume != 0 {
		dst.Volume = src.Volume
	}
	if mask&SampleMaskGlobalVolume != 0 {
		dst.GlobalVolume = src.GlobalVolume
	}
	if mask&SampleMaskPan != 0 {
		dst.Pan = src.Pan
	}
	if mask&SampleMaskFlags != 0 {
		dst.Flags = src.Flags
	}
	if mask&SampleMaskVibratoType != 0 {
		dst.VibratoType = src.VibratoType
	}
	if mask&SampleMaskVibratoSweep != 0 {
		dst.VibratoSweep = src.VibratoSweep
	}
	if mask&SampleMaskVibratoDepth != 0 {
		dst.VibratoDepth = src.VibratoDepth
	}
	if mask&SampleMaskVibratoRate != 0 {
		dst.VibratoRate = src.VibratoRate
	}
	return dst
}

type InstrumentMask uint32

const (
	InstrumentMaskName InstrumentMask = 1 << iota
	InstrumentMaskFadeOut
	InstrumentMaskGlobalVolume
	InstrumentMaskPan
	InstrumentMaskNewNoteAction
	InstrumentMaskDuplicateCheckType
	InstrumentMaskDuplicateNoteAction
	InstrumentMaskMidiChannel
	InstrumentMaskMidiProgram
	InstrumentMaskPluginSlot
	InstrumentMaskSampleMap
)

func InstrumentMaskOf(before model.Instrument, after model.Instrument) (mask InstrumentMask) {
	if before.Name != after.Name {
		mask |= InstrumentMaskName
	}
	if before.FadeOut != after.FadeOut {
		mask |= InstrumentMaskFadeOut
	}
	if before.GlobalVolume != after.GlobalVolume {
		mask |= InstrumentMaskGlobalVolume
	}
	if before.Pan != after.Pan {
		mask |= InstrumentMaskPan
	}
	if before.NewNoteAction != after.NewNoteAction {
		mask |= InstrumentMaskNewNoteAction
	}
	if before.DuplicateCheckType != after.DuplicateCheckType {
		mask |= InstrumentMaskDuplicateCheckType
	}
	if before.DuplicateNoteAction != after.DuplicateNoteAction {
		mask |= InstrumentMaskDuplicateNoteAction
	}
	if before.MidiChannel != after.MidiChannel {
		mask |= InstrumentMaskMidiChannel
	}
	if before.MidiProgram != after.MidiProgram {
		mask |= InstrumentMaskMidiProgram
	}
	if before.PluginSlot != after.PluginSlot {
		mask |= InstrumentMaskPluginSlot
	}
	if before.SampleMap != after.SampleMap {
		mask |= InstrumentMaskSampleMap
	}
	return
}

func MergeInstrument(dst model.Instrument, src model.Instrument, mask InstrumentMask) model.Instrument {
	if mask&InstrumentMaskName != 0 {
		dst.Name = src.Name
	}
	if mask&InstrumentMaskFadeOut != 0 {
		dst.FadeOut = src.FadeOut
	}
	if mask&InstrumentMaskGlobalVolume != 0 {
		dst.GlobalVolume = src.GlobalVolume
	}
	if mask&InstrumentMaskPan != 0 {
		dst.Pan = src.Pan
	}
	if mask&InstrumentMaskNewNoteAction != 0 {
		dst.NewNoteAction = src.NewNoteAction
	}
	if mask&InstrumentMaskDuplicateCheckType != 0 {
		dst.DuplicateCheckType = src.DuplicateCheckType
	}
	if mask&InstrumentMaskDuplicateNoteAction != 0 {
		dst.DuplicateNoteAction = src.DuplicateNoteAction
	}
	if mask&InstrumentMaskMidiChannel != 0 {
		dst.MidiChannel = src.MidiChannel
	}
	if mask&InstrumentMaskMidiProgram != 0 {
		dst.MidiProgram = src.MidiProgram
	}
	if mask&InstrumentMaskPluginSlot != 0 {
		dst.PluginSlot = src.PluginSlot
	}
	if mask&InstrumentMaskSampleMap != 0 {
		dst.SampleMap = src.SampleMap
	}
	return dst
}

type SequenceMask uint8

const (
	SequenceMaskName SequenceMask = 1 << iota
	SequenceMaskRestartPosition
	SequenceMaskOrders
)

func SequenceMaskOf(before model.Sequence, after model.Sequence) (mask SequenceMask) {
	if before.Name != after.Name {
		mask |= SequenceMaskName
	}
	if before.RestartPosition != after.RestartPosition {
		mask |= SequenceMaskRestartPosition
	}
	if !slices.Equal(before.Orders, after.Orders) {
		mask |= SequenceMaskOrders
	}
	return
}

func MergeSequence(dst model.Sequence, src model.Sequence, mask SequenceMask) model.Sequence {
	if mask&SequenceMaskName != 0 {
		dst.Name = src.Name
	}
	if mask&SequenceMaskRestartPosition != 0 {
		dst.RestartPosition = src.RestartPosition
	}
	if mask&SequenceMaskOrders != 0 {
		dst.Orders = slices.Clone(src.Orders)
	}
	return dst
}

type ChannelMask uint8

const (
	ChannelMaskName ChannelMask = 1 << iota
	ChannelMaskVolume
	ChannelMaskPan
	ChannelMaskMuted
	ChannelMaskSurround
	ChannelMaskMixPlugin
)

func ChannelMaskOf(before model.ChannelSettings, after model.ChannelSettings) (mask ChannelMask) {
	if before.Name != after.Name {
		mask |= ChannelMaskName
	}
	if before.Volume != after.Volume {
		mask |= ChannelMaskVolume
	}
	if before.Pan != after.Pan {
		mask |= ChannelMaskPan
	}
	if before.Muted != after.Muted {
		mask |= ChannelMaskMuted
	}
	if before.Surround != after.Surround {
		mask |= ChannelMaskSurround
	}
	if before.MixPlugin != after.MixPlugin {
		mask |= ChannelMaskMixPlugin
	}
	return
}

func MergeChannel(dst model.ChannelSettings, src model.ChannelSettings, mask ChannelMask) model.ChannelSettings {
	if mask&ChannelMaskName != 0 {
		dst.Name = src.Name
	}
	if mask&ChannelMaskVolume != 0 {
		dst.Volume = src.Volume
	}
	if mask&ChannelMaskPan != 0 {
		dst.Pan = src.Pan
	}
	if mask&ChannelMaskMuted != 0 {
		dst.Muted = src.Muted
	}
	if mask&ChannelMaskSurround != 0 {
		dst.Surround = src.Surround
	}
	if mask&ChannelMaskMixPlugin != 0 {
		dst.MixPlugin = src.MixPlugin
	}
	return dst
}
