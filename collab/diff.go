package collab

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/bringyour/collab/collab/model"
)

type Sender interface {
	Send(message Message) error
}

// A scoped before/after comparison of a document sub-range.
// A begin function copies the current values. `Commit` re-reads them, and sends one delta
// message when anything changed. A transaction with no net change sends nothing.
//
//	tx, err := BeginSampleTransaction(conn, document, sampleId)
//	if err != nil {
//		return err
//	}
//	defer tx.Commit()
type Transaction struct {
	sender Sender
	commit func() Message
	done   bool
}

func newTransaction(sender Sender, commit func() Message) *Transaction {
	return &Transaction{
		sender: sender,
		commit: commit,
	}
}

// Sends the delta if anything changed. Only the first call of `Commit` or `Cancel` has an effect.
func (self *Transaction) Commit() error {
	if self.done {
		return nil
	}
	self.done = true
	message := self.commit()
	if message == nil {
		return nil
	}
	if self.sender == nil {
		return nil
	}
	return self.sender.Send(message)
}

func (self *Transaction) Cancel() {
	self.done = true
}

// runs `mutate` then commits
func Edit(tx *Transaction, mutate func()) error {
	mutate()
	return tx.Commit()
}

func checkRange(start int, count int, limit int) error {
	if start < 0 || count < 0 || limit < start || limit-start < count {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, start, start+count, limit)
	}
	return nil
}

func BeginPatternTransaction(
	sender Sender,
	document Document,
	patternId int,
	rowStart int,
	rowCount int,
	channelStart int,
	channelCount int,
) (*Transaction, error) {
	rows, ok := document.PatternRows(patternId)
	if !ok {
		return nil, fmt.Errorf("%w: pattern %d", ErrOutOfRange, patternId)
	}
	if err := checkRange(rowStart, rowCount, rows); err != nil {
		return nil, err
	}
	if err := checkRange(channelStart, channelCount, document.ChannelCount()); err != nil {
		return nil, err
	}

	// row major
	before := make([]model.Cell, rowCount*channelCount)
	for row := 0; row < rowCount; row += 1 {
		for channel := 0; channel < channelCount; channel += 1 {
			before[row*channelCount+channel], _ = document.Cell(patternId, rowStart+row, channelStart+channel)
		}
	}

	commit := func() Message {
		after := make([]model.Cell, len(before))
		masks := make([]CellMask, len(before))

		// bounding box of changed cells
		minRow, maxRow := rowCount, -1
		minChannel, maxChannel := channelCount, -1
		for row := 0; row < rowCount; row += 1 {
			for channel := 0; channel < channelCount; channel += 1 {
				i := row*channelCount + channel
				cell, ok := document.Cell(patternId, rowStart+row, channelStart+channel)
				if !ok {
					// the pattern shrank
					continue
				}
				after[i] = cell
				masks[i] = CellMaskOf(before[i], cell)
				if masks[i] != 0 {
					minRow = min(minRow, row)
					maxRow = max(maxRow, row)
					minChannel = min(minChannel, channel)
					maxChannel = max(maxChannel, channel)
				}
			}
		}
		if maxRow < 0 {
			return nil
		}

		deltaRowCount := maxRow - minRow + 1
		deltaChannelCount := maxChannel - minChannel + 1
		cells := make([]CellDelta, 0, deltaRowCount*deltaChannelCount)
		for row := minRow; row <= maxRow; row += 1 {
			for channel := minChannel; channel <= maxChannel; channel += 1 {
				i := row*channelCount + channel
				cells = append(cells, CellDelta{
					Mask: masks[i],
					Cell: after[i],
				})
			}
		}
		return &PatternDelta{
			PatternId:    uint32(patternId),
			RowStart:     uint32(rowStart + minRow),
			RowCount:     uint32(deltaRowCount),
			ChannelStart: uint32(channelStart + minChannel),
			ChannelCount: uint32(deltaChannelCount),
			Cells:        cells,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginSampleTransaction(sender Sender, document Document, sampleId int) (*Transaction, error) {
	before, ok := document.Sample(sampleId)
	if !ok {
		return nil, fmt.Errorf("%w: sample %d", ErrOutOfRange, sampleId)
	}
	commit := func() Message {
		after, ok := document.Sample(sampleId)
		if !ok {
			return nil
		}
		mask := SampleMaskOf(before, after)
		if mask == 0 {
			return nil
		}
		return &SamplePropertyDelta{
			SampleId: uint32(sampleId),
			Mask:     mask,
			Sample:   after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginSampleDataTransaction(sender Sender, document Document, sampleId int) (*Transaction, error) {
	before, ok := document.SampleData(sampleId)
	if !ok {
		return nil, fmt.Errorf("%w: sample %d", ErrOutOfRange, sampleId)
	}
	commit := func() Message {
		after, ok := document.SampleData(sampleId)
		if !ok || bytes.Equal(before, after) {
			return nil
		}
		return &SampleDataDelta{
			SampleId: uint32(sampleId),
			Data:     after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginInstrumentTransaction(sender Sender, document Document, instrumentId int) (*Transaction, error) {
	before, ok := document.Instrument(instrumentId)
	if !ok {
		return nil, fmt.Errorf("%w: instrument %d", ErrOutOfRange, instrumentId)
	}
	commit := func() Message {
		after, ok := document.Instrument(instrumentId)
		if !ok {
			return nil
		}
		mask := InstrumentMaskOf(before, after)
		if mask == 0 {
			return nil
		}
		return &InstrumentDelta{
			InstrumentId: uint32(instrumentId),
			Mask:         mask,
			Instrument:   after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginEnvelopeTransaction(
	sender Sender,
	document Document,
	instrumentId int,
	envelopeType model.EnvelopeType,
) (*Transaction, error) {
	before, ok := document.Envelope(instrumentId, envelopeType)
	if !ok {
		return nil, fmt.Errorf("%w: instrument %d %s envelope", ErrOutOfRange, instrumentId, envelopeType)
	}
	before = before.Clone()
	commit := func() Message {
		after, ok := document.Envelope(instrumentId, envelopeType)
		if !ok || before.Equal(after) {
			return nil
		}
		return &EnvelopeDelta{
			InstrumentId: uint32(instrumentId),
			EnvelopeType: envelopeType,
			Envelope:     after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginSequenceTransaction(sender Sender, document Document, sequenceId int) (*Transaction, error) {
	before, ok := document.Sequence(sequenceId)
	if !ok {
		return nil, fmt.Errorf("%w: sequence %d", ErrOutOfRange, sequenceId)
	}
	before = before.Clone()
	commit := func() Message {
		after, ok := document.Sequence(sequenceId)
		if !ok {
			return nil
		}
		mask := SequenceMaskOf(before, after)
		if mask == 0 {
			return nil
		}
		return &SequenceDelta{
			SequenceId: uint32(sequenceId),
			Mask:       mask,
			Sequence:   after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginChannelTransaction(sender Sender, document Document, channel int) (*Transaction, error) {
	before, ok := document.ChannelSettings(channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %d", ErrOutOfRange, channel)
	}
	commit := func() Message {
		after, ok := document.ChannelSettings(channel)
		if !ok {
			return nil
		}
		mask := ChannelMaskOf(before, after)
		if mask == 0 {
			return nil
		}
		return &ChannelDelta{
			Channel:  uint32(channel),
			Mask:     mask,
			Settings: after,
		}
	}
	return newTransaction(sender, commit), nil
}

func BeginPluginTransaction(sender Sender, document Document, slot int) (*Transaction, error) {
	before, ok := document.PluginParameters(slot)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %d", ErrOutOfRange, slot)
	}
	before = slices.Clone(before)
	commit := func() Message {
		after, ok := document.PluginParameters(slot)
		if !ok {
			return nil
		}
		changes := []ParameterChange{}
		for i, value := range after {
			// bitwise, so NaN equals NaN
			if i < len(before) && math.Float32bits(before[i]) == math.Float32bits(value) {
				continue
			}
			changes = append(changes, ParameterChange{
				Index: uint32(i),
				Value: value,
			})
		}
		if len(changes) == 0 {
			return nil
		}
		return &PluginParameterDelta{
			Slot:    uint32(slot),
			Changes: changes,
		}
	}
	return newTransaction(sender, commit), nil
}

// collects committed messages instead of sending them
type messageCollector struct {
	messages []Message
}

func (self *messageCollector) Send(message Message) error {
	self.messages = append(self.messages, message)
	return nil
}
