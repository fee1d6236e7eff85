package collab

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/collab/collab/model"
)

const testChannelCount = 4

func newTestModule() *model.Module {
	module := model.NewModule("test.it", testChannelCount)
	module.AddPattern("intro", 64)
	module.AddPattern("verse", 32)
	module.AddSample(model.Sample{Name: "kick", C5Speed: 8363, Volume: 64}, []byte{0, 16, 32, 16, 0})
	module.AddSample(model.Sample{Name: "snare", C5Speed: 8363, Volume: 48}, nil)
	module.AddInstrument(model.Instrument{Name: "drums", GlobalVolume: 128})
	module.AddInstrument(model.Instrument{Name: "bass", GlobalVolume: 96})
	module.AddSequence(model.Sequence{Name: "main", Orders: []uint16{0, 1}})
	module.AddPlugin(8)
	return module
}

func requireSnapshot(t *testing.T, document Document) []byte {
	snapshot, err := document.Snapshot()
	assert.Equal(t, err, nil)
	return snapshot
}

func TestPatternTransactionTrim(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	tx, err := BeginPatternTransaction(collector, module, 0, 0, 64, 0, testChannelCount)
	assert.Equal(t, err, nil)
	err = Edit(tx, func() {
		module.SetCell(0, 10, 2, model.Cell{Note: 60, Instrument: 1})
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, len(collector.messages), 1)
	assert.Equal(t, collector.messages[0], &PatternDelta{
		PatternId:    0,
		RowStart:     10,
		RowCount:     1,
		ChannelStart: 2,
		ChannelCount: 1,
		Cells: []CellDelta{
			{Mask: CellMaskNote | CellMaskInstrument, Cell: model.Cell{Note: 60, Instrument: 1}},
		},
	})
}

func TestPatternTransactionBoundingBox(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	tx, err := BeginPatternTransaction(collector, module, 1, 0, 32, 0, testChannelCount)
	assert.Equal(t, err, nil)
	module.SetCell(1, 3, 1, model.Cell{Note: 40})
	module.SetCell(1, 5, 3, model.Cell{Command: 7, Param: 0x10})
	assert.Equal(t, tx.Commit(), nil)

	assert.Equal(t, len(collector.messages), 1)
	delta := collector.messages[0].(*PatternDelta)
	assert.Equal(t, delta.RowStart, uint32(3))
	assert.Equal(t, delta.RowCount, uint32(3))
	assert.Equal(t, delta.ChannelStart, uint32(1))
	assert.Equal(t, delta.ChannelCount, uint32(3))
	assert.Equal(t, len(delta.Cells), 9)

	changed := 0
	for _, cell := range delta.Cells {
		if cell.Mask != 0 {
			changed += 1
		}
	}
	assert.Equal(t, changed, 2)
	assert.Equal(t, delta.Cells[0], CellDelta{Mask: CellMaskNote, Cell: model.Cell{Note: 40}})
	assert.Equal(t, delta.Cells[8], CellDelta{Mask: CellMaskCommand | CellMaskParam, Cell: model.Cell{Command: 7, Param: 0x10}})

	// the trimmed delta reproduces the edit on another copy
	replica := newTestModule()
	_, err = ApplyDelta(replica, delta)
	assert.Equal(t, err, nil)
	assert.Equal(t, requireSnapshot(t, replica), requireSnapshot(t, module))
}

func TestTransactionNoChange(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	tx, err := BeginPatternTransaction(collector, module, 0, 0, 16, 0, testChannelCount)
	assert.Equal(t, err, nil)
	// set to the same value
	module.SetCell(0, 1, 1, model.Cell{})
	assert.Equal(t, tx.Commit(), nil)
	assert.Equal(t, len(collector.messages), 0)

	tx, err = BeginSampleTransaction(collector, module, 0)
	assert.Equal(t, err, nil)
	sample, _ := module.Sample(0)
	module.SetSample(0, sample)
	assert.Equal(t, tx.Commit(), nil)
	assert.Equal(t, len(collector.messages), 0)
}

func TestTransactionCommitOnce(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	tx, err := BeginChannelTransaction(collector, module, 1)
	assert.Equal(t, err, nil)
	module.SetChannelSettings(1, model.ChannelSettings{Name: "lead", Volume: 64, Pan: 128})
	assert.Equal(t, tx.Commit(), nil)
	assert.Equal(t, tx.Commit(), nil)
	assert.Equal(t, len(collector.messages), 1)

	tx, err = BeginChannelTransaction(collector, module, 2)
	assert.Equal(t, err, nil)
	module.SetChannelSettings(2, model.ChannelSettings{Muted: true})
	tx.Cancel()
	assert.Equal(t, tx.Commit(), nil)
	assert.Equal(t, len(collector.messages), 1)

	// no sender
	tx, err = BeginChannelTransaction(nil, module, 3)
	assert.Equal(t, err, nil)
	module.SetChannelSettings(3, model.ChannelSettings{Muted: true})
	assert.Equal(t, tx.Commit(), nil)
}

func TestTransactionMasks(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	tx, err := BeginSampleTransaction(collector, module, 1)
	assert.Equal(t, err, nil)
	sample, _ := module.Sample(1)
	sample.Name = "clap"
	sample.Volume = 32
	module.SetSample(1, sample)
	tx.Commit()

	tx, err = BeginSampleDataTransaction(collector, module, 1)
	assert.Equal(t, err, nil)
	module.SetSampleData(1, []byte{1, 2, 3})
	tx.Commit()

	tx, err = BeginInstrumentTransaction(collector, module, 0)
	assert.Equal(t, err, nil)
	instrument, _ := module.Instrument(0)
	instrument.SampleMap[60] = 1
	instrument.FadeOut = 512
	module.SetInstrument(0, instrument)
	tx.Commit()

	tx, err = BeginEnvelopeTransaction(collector, module, 1, model.EnvelopeVolume)
	assert.Equal(t, err, nil)
	envelope := model.Envelope{
		Flags:  model.EnvelopeEnabled,
		Points: []model.EnvelopePoint{{Tick: 0, Value: 64}, {Tick: 10, Value: 0}},
	}
	module.SetEnvelope(1, model.EnvelopeVolume, envelope)
	tx.Commit()

	tx, err = BeginSequenceTransaction(collector, module, 0)
	assert.Equal(t, err, nil)
	sequence, _ := module.Sequence(0)
	sequence.Orders = append(sequence.Orders, 1)
	module.SetSequence(0, sequence)
	tx.Commit()

	tx, err = BeginChannelTransaction(collector, module, 0)
	assert.Equal(t, err, nil)
	settings, _ := module.ChannelSettings(0)
	settings.Pan = 0
	settings.Surround = true
	module.SetChannelSettings(0, settings)
	tx.Commit()

	tx, err = BeginPluginTransaction(collector, module, 0)
	assert.Equal(t, err, nil)
	module.SetPluginParameter(0, 2, 0.75)
	module.SetPluginParameter(0, 5, 0.25)
	tx.Commit()

	assert.Equal(t, len(collector.messages), 7)
	assert.Equal(t, collector.messages[0].(*SamplePropertyDelta).Mask, SampleMaskName|SampleMaskVolume)
	assert.Equal(t, collector.messages[1], &SampleDataDelta{SampleId: 1, Data: []byte{1, 2, 3}})
	assert.Equal(t, collector.messages[2].(*InstrumentDelta).Mask, InstrumentMaskSampleMap|InstrumentMaskFadeOut)
	assert.Equal(t, collector.messages[3], &EnvelopeDelta{InstrumentId: 1, EnvelopeType: model.EnvelopeVolume, Envelope: envelope})
	assert.Equal(t, collector.messages[4].(*SequenceDelta).Mask, SequenceMaskOrders)
	assert.Equal(t, collector.messages[5].(*ChannelDelta).Mask, ChannelMaskPan|ChannelMaskSurround)
	assert.Equal(t, collector.messages[6], &PluginParameterDelta{
		Slot: 0,
		Changes: []ParameterChange{
			{Index: 2, Value: 0.75},
			{Index: 5, Value: 0.25},
		},
	})

	// replaying every delta converges
	replica := newTestModule()
	for _, message := range collector.messages {
		_, err := ApplyDelta(replica, message)
		assert.Equal(t, err, nil)
	}
	assert.Equal(t, requireSnapshot(t, replica), requireSnapshot(t, module))
}

func TestTransactionOutOfRange(t *testing.T) {
	module := newTestModule()

	_, err := BeginPatternTransaction(nil, module, 5, 0, 1, 0, 1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginPatternTransaction(nil, module, 1, 30, 4, 0, 1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginPatternTransaction(nil, module, 1, 0, 1, 3, 2)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginPatternTransaction(nil, module, 1, -1, 1, 0, 1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)

	_, err = BeginSampleTransaction(nil, module, 2)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginSampleDataTransaction(nil, module, -1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginInstrumentTransaction(nil, module, 2)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginEnvelopeTransaction(nil, module, 0, model.EnvelopeTypeCount)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginSequenceTransaction(nil, module, 1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginChannelTransaction(nil, module, testChannelCount)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = BeginPluginTransaction(nil, module, 1)
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
}

func TestApplyDeltaNoPartialApply(t *testing.T) {
	module := newTestModule()
	before := requireSnapshot(t, module)

	// one valid and one invalid parameter
	_, err := ApplyDelta(module, &PluginParameterDelta{
		Slot: 0,
		Changes: []ParameterChange{
			{Index: 0, Value: 1},
			{Index: 99, Value: 1},
		},
	})
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)

	// runs past the end of the pattern
	_, err = ApplyDelta(module, &PatternDelta{
		PatternId:    1,
		RowStart:     31,
		RowCount:     2,
		ChannelStart: 0,
		ChannelCount: 1,
		Cells: []CellDelta{
			{Mask: CellMaskNote, Cell: model.Cell{Note: 1}},
			{Mask: CellMaskNote, Cell: model.Cell{Note: 2}},
		},
	})
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)

	_, err = ApplyDelta(module, &PatternDelta{
		PatternId:    0,
		RowCount:     1,
		ChannelCount: 2,
		Cells:        []CellDelta{{Mask: CellMaskNote}},
	})
	assert.Equal(t, errors.Is(err, ErrMalformedMessage), true)

	_, err = ApplyDelta(module, &SamplePropertyDelta{SampleId: 9, Mask: SampleMaskName})
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = ApplyDelta(module, &EnvelopeDelta{InstrumentId: 0, EnvelopeType: 7})
	assert.Equal(t, errors.Is(err, ErrOutOfRange), true)
	_, err = ApplyDelta(module, &ChatMessage{Text: "not a delta"})
	assert.NotEqual(t, err, nil)

	assert.Equal(t, requireSnapshot(t, module), before)
	assert.Equal(t, module.IsModified(), false)
}

func TestApplyDeltaMasked(t *testing.T) {
	module := newTestModule()
	module.SetCell(0, 0, 0, model.Cell{Note: 50, Instrument: 2, Volume: 40})

	hint, err := ApplyDelta(module, &PatternDelta{
		PatternId:    0,
		RowCount:     1,
		ChannelCount: 1,
		Cells: []CellDelta{
			// only the volume is taken from the delta
			{Mask: CellMaskVolume, Cell: model.Cell{Note: 99, Volume: 10}},
		},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, hint, model.UpdateHint{Kind: model.HintPattern, Id: 0})

	cell, _ := module.Cell(0, 0, 0)
	assert.Equal(t, cell, model.Cell{Note: 50, Instrument: 2, Volume: 10})
}

func TestDeltaTransaction(t *testing.T) {
	module := newTestModule()
	collector := &messageCollector{}

	delta := &ChannelDelta{
		Channel:  1,
		Mask:     ChannelMaskName | ChannelMaskVolume,
		Settings: model.ChannelSettings{Name: "lead", Volume: 64},
	}
	tx, err := BeginDeltaTransaction(collector, module, delta)
	assert.Equal(t, err, nil)
	_, err = ApplyDelta(module, delta)
	assert.Equal(t, err, nil)
	tx.Commit()

	// the volume already matched, so only the name is authoritative
	assert.Equal(t, len(collector.messages), 1)
	assert.Equal(t, collector.messages[0].(*ChannelDelta).Mask, ChannelMaskName)
}
