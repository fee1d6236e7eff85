package collab

import (
	"github.com/bringyour/collab/collab/model"
)

// Document is the external editable model of one collaboratively edited module.
// The session core only reads and writes records through these accessors, and raises the
// dirty/notify hooks after every applied change.
//
// Accessors return copies. Setters return false when the element does not exist.
// `*model.Module` is the reference implementation.
type Document interface {
	Name() string

	ChannelCount() int
	PatternRows(patternId int) (int, bool)
	Cell(patternId int, row int, channel int) (model.Cell, bool)
	SetCell(patternId int, row int, channel int, cell model.Cell) bool

	Sample(sampleId int) (model.Sample, bool)
	SetSample(sampleId int, sample model.Sample) bool
	SampleData(sampleId int) ([]byte, bool)
	SetSampleData(sampleId int, data []byte) bool

	Instrument(instrumentId int) (model.Instrument, bool)
	SetInstrument(instrumentId int, instrument model.Instrument) bool
	Envelope(instrumentId int, envelopeType model.EnvelopeType) (model.Envelope, bool)
	SetEnvelope(instrumentId int, envelopeType model.EnvelopeType, envelope model.Envelope) bool

	Sequence(sequenceId int) (model.Sequence, bool)
	SetSequence(sequenceId int, sequence model.Sequence) bool

	ChannelSettings(channel int) (model.ChannelSettings, bool)
	SetChannelSettings(channel int, settings model.ChannelSettings) bool

	PluginParameters(slot int) ([]float32, bool)
	SetPluginParameter(slot int, index int, value float32) bool

	// full document state for joining participants
	Snapshot() ([]byte, error)
	Restore(snapshot []byte) error

	SetModified()
	NotifyChanged(hint model.UpdateHint)
}
