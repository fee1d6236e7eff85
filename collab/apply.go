package collab

import (
	"fmt"

	"github.com/bringyour/collab/collab/model"
)

func isDelta(message Message) bool {
	switch message.(type) {
	case *PatternDelta,
		*SamplePropertyDelta,
		*SampleDataDelta,
		*InstrumentDelta,
		*EnvelopeDelta,
		*SequenceDelta,
		*ChannelDelta,
		*PluginParameterDelta:
		return true
	default:
		return false
	}
}

// Applies a delta to the document. The whole delta is validated before any change,
// so a delta that does not fit is dropped with `ErrOutOfRange` and never partially applied.
// The caller raises `SetModified` and `NotifyChanged` with the returned hint.
func ApplyDelta(document Document, message Message) (model.UpdateHint, error) {
	switch v := message.(type) {
	case *PatternDelta:
		return applyPatternDelta(document, v)
	case *SamplePropertyDelta:
		sampleId := int(v.SampleId)
		sample, ok := document.Sample(sampleId)
		if !ok {
			return model.UpdateHint{}, fmt.Errorf("%w: sample %d", ErrOutOfRange, sampleId)
		}
		document.SetSample(sampleId, MergeSample(sample, v.Sample, v.Mask))
		return model.UpdateHint{Kind: model.HintSample, Id: sampleId}, nil
	case *SampleDataDelta:
		sampleId := int(v.SampleId)
		if !document.SetSampleData(sampleId, v.Data) {
			return model.UpdateHint{}, fmt.Errorf("%w: sample %d", ErrOutOfRange, sampleId)
		}
		return model.UpdateHint{Kind: model.HintSampleData, Id: sampleId}, nil
	case *InstrumentDelta:
		instrumentId := int(v.InstrumentId)
		instrument, ok := document.Instrument(instrumentId)
		if !ok {
			return model.UpdateHint{}, fmt.Errorf("%w: instrument %d", ErrOutOfRange, instrumentId)
		}
		document.SetInstrument(instrumentId, MergeInstrument(instrument, v.Instrument, v.Mask))
		return model.UpdateHint{Kind: model.HintInstrument, Id: instrumentId}, nil
	case *EnvelopeDelta:
		instrumentId := int(v.InstrumentId)
		if model.EnvelopeTypeCount <= v.EnvelopeType {
			return model.UpdateHint{}, fmt.Errorf("%w: envelope type %d", ErrOutOfRange, v.EnvelopeType)
		}
		if !document.SetEnvelope(instrumentId, v.EnvelopeType, v.Envelope.Clone()) {
			return model.UpdateHint{}, fmt.Errorf("%w: instrument %d", ErrOutOfRange, instrumentId)
		}
		return model.UpdateHint{Kind: model.HintEnvelope, Id: instrumentId}, nil
	case *SequenceDelta:
		sequenceId := int(v.SequenceId)
		sequence, ok := document.Sequence(sequenceId)
		if !ok {
			return model.UpdateHint{}, fmt.Errorf("%w: sequence %d", ErrOutOfRange, sequenceId)
		}
		document.SetSequence(sequenceId, MergeSequence(sequence, v.Sequence, v.Mask))
		return model.UpdateHint{Kind: model.HintSequence, Id: sequenceId}, nil
	case *ChannelDelta:
		channel := int(v.Channel)
		settings, ok := document.ChannelSettings(channel)
		if !ok {
			return model.UpdateHint{}, fmt.Errorf("%w: channel %d", ErrOutOfRange, channel)
		}
		document.SetChannelSettings(channel, MergeChannel(settings, v.Settings, v.Mask))
		return model.UpdateHint{Kind: model.HintChannel, Id: channel}, nil
	case *PluginParameterDelta:
		slot := int(v.Slot)
		parameters, ok := document.PluginParameters(slot)
		if !ok {
			return model.UpdateHint{}, fmt.Errorf("%w: plugin %d", ErrOutOfRange, slot)
		}
		for _, change := range v.Changes {
			if uint64(len(parameters)) <= uint64(change.Index) {
				return model.UpdateHint{}, fmt.Errorf("%w: plugin %d parameter %d", ErrOutOfRange, slot, change.Index)
			}
		}
		for _, change := range v.Changes {
			document.SetPluginParameter(slot, int(change.Index), change.Value)
		}
		return model.UpdateHint{Kind: model.HintPlugin, Id: slot}, nil
	default:
		return model.UpdateHint{}, fmt.Errorf("not a delta: %T", message)
	}
}

func applyPatternDelta(document Document, delta *PatternDelta) (model.UpdateHint, error) {
	patternId := int(delta.PatternId)
	rows, ok := document.PatternRows(patternId)
	if !ok {
		return model.UpdateHint{}, fmt.Errorf("%w: pattern %d", ErrOutOfRange, patternId)
	}
	if uint64(rows) < uint64(delta.RowStart)+uint64(delta.RowCount) {
		return model.UpdateHint{}, fmt.Errorf("%w: pattern %d rows [%d, +%d) of %d", ErrOutOfRange, patternId, delta.RowStart, delta.RowCount, rows)
	}
	channels := document.ChannelCount()
	if uint64(channels) < uint64(delta.ChannelStart)+uint64(delta.ChannelCount) {
		return model.UpdateHint{}, fmt.Errorf("%w: pattern %d channels [%d, +%d) of %d", ErrOutOfRange, patternId, delta.ChannelStart, delta.ChannelCount, channels)
	}
	if uint64(len(delta.Cells)) != uint64(delta.RowCount)*uint64(delta.ChannelCount) {
		return model.UpdateHint{}, fmt.Errorf("%w: pattern %d cell count %d", ErrMalformedMessage, patternId, len(delta.Cells))
	}

	rowCount := int(delta.RowCount)
	channelCount := int(delta.ChannelCount)
	for row := 0; row < rowCount; row += 1 {
		for channel := 0; channel < channelCount; channel += 1 {
			cellDelta := delta.Cells[row*channelCount+channel]
			if cellDelta.Mask == 0 {
				continue
			}
			r := int(delta.RowStart) + row
			c := int(delta.ChannelStart) + channel
			cell, _ := document.Cell(patternId, r, c)
			document.SetCell(patternId, r, c, MergeCell(cell, cellDelta.Cell, cellDelta.Mask))
		}
	}
	return model.UpdateHint{Kind: model.HintPattern, Id: patternId}, nil
}

// Opens a transaction over exactly the range a delta touches.
// The host runs this around its own apply to derive the authoritative delta.
func BeginDeltaTransaction(sender Sender, document Document, message Message) (*Transaction, error) {
	switch v := message.(type) {
	case *PatternDelta:
		return BeginPatternTransaction(
			sender,
			document,
			int(v.PatternId),
			int(v.RowStart),
			int(v.RowCount),
			int(v.ChannelStart),
			int(v.ChannelCount),
		)
	case *SamplePropertyDelta:
		return BeginSampleTransaction(sender, document, int(v.SampleId))
	case *SampleDataDelta:
		return BeginSampleDataTransaction(sender, document, int(v.SampleId))
	case *InstrumentDelta:
		return BeginInstrumentTransaction(sender, document, int(v.InstrumentId))
	case *EnvelopeDelta:
		if model.EnvelopeTypeCount <= v.EnvelopeType {
			return nil, fmt.Errorf("%w: envelope type %d", ErrOutOfRange, v.EnvelopeType)
		}
		return BeginEnvelopeTransaction(sender, document, int(v.InstrumentId), v.EnvelopeType)
	case *SequenceDelta:
		return BeginSequenceTransaction(sender, document, int(v.SequenceId))
	case *ChannelDelta:
		return BeginChannelTransaction(sender, document, int(v.Channel))
	case *PluginParameterDelta:
		return BeginPluginTransaction(sender, document, int(v.Slot))
	default:
		return nil, fmt.Errorf("not a delta: %T", message)
	}
}
