package model

import (
	"slices"
	"sync"
)

type ViewFunction func(hint UpdateHint)

type pattern struct {
	name  string
	rows  int
	cells []Cell
}

type sampleSlot struct {
	sample Sample
	data   []byte
}

type instrumentSlot struct {
	instrument Instrument
	envelopes  [EnvelopeTypeCount]Envelope
}

// Module is safe for concurrent use. Every accessor copies in and out,
// so callers never share backing arrays with the module.
type Module struct {
	stateLock   sync.RWMutex
	name        string
	channels    []ChannelSettings
	patterns    []*pattern
	samples     []*sampleSlot
	instruments []*instrumentSlot
	sequences   []Sequence
	plugins     [][]float32
	modified    bool

	viewsLock sync.Mutex
	nextView  int
	views     map[int]ViewFunction
}

func NewModule(name string, channelCount int) *Module {
	channels := make([]ChannelSettings, channelCount)
	for i := range channels {
		channels[i] = ChannelSettings{
			Volume: 64,
			Pan:    128,
		}
	}
	return &Module{
		name:     name,
		channels: channels,
		views:    map[int]ViewFunction{},
	}
}

func (self *Module) Name() string {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.name
}

func (self *Module) ChannelCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.channels)
}

func (self *Module) AddPattern(name string, rows int) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.patterns = append(self.patterns, &pattern{
		name:  name,
		rows:  rows,
		cells: make([]Cell, rows*len(self.channels)),
	})
	return len(self.patterns) - 1
}

func (self *Module) AddSample(sample Sample, data []byte) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.samples = append(self.samples, &sampleSlot{
		sample: sample,
		data:   slices.Clone(data),
	})
	return len(self.samples) - 1
}

func (self *Module) AddInstrument(instrument Instrument) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.instruments = append(self.instruments, &instrumentSlot{
		instrument: instrument,
	})
	return len(self.instruments) - 1
}

func (self *Module) AddSequence(sequence Sequence) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sequences = append(self.sequences, sequence.Clone())
	return len(self.sequences) - 1
}

func (self *Module) AddPlugin(parameterCount int) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.plugins = append(self.plugins, make([]float32, parameterCount))
	return len(self.plugins) - 1
}

func (self *Module) PatternCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.patterns)
}

func (self *Module) PatternRows(patternId int) (int, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	p := self.pattern(patternId)
	if p == nil {
		return 0, false
	}
	return p.rows, true
}

// must be called with the state lock
func (self *Module) pattern(patternId int) *pattern {
	if patternId < 0 || len(self.patterns) <= patternId {
		return nil
	}
	return self.patterns[patternId]
}

// must be called with the state lock
func (self *Module) cellIndex(patternId int, row int, channel int) (*pattern, int) {
	p := self.pattern(patternId)
	if p == nil {
		return nil, -1
	}
	if row < 0 || p.rows <= row || channel < 0 || len(self.channels) <= channel {
		return nil, -1
	}
	return p, row*len(self.channels) + channel
}

func (self *Module) Cell(patternId int, row int, channel int) (Cell, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	p, i := self.cellIndex(patternId, row, channel)
	if p == nil {
		return Cell{}, false
	}
	return p.cells[i], true
}

func (self *Module) SetCell(patternId int, row int, channel int, cell Cell) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	p, i := self.cellIndex(patternId, row, channel)
	if p == nil {
		return false
	}
	p.cells[i] = cell
	return true
}

func (self *Module) SampleCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.samples)
}

func (self *Module) Sample(sampleId int) (Sample, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if sampleId < 0 || len(self.samples) <= sampleId {
		return Sample{}, false
	}
	return self.samples[sampleId].sample, true
}

func (self *Module) SetSample(sampleId int, sample Sample) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if sampleId < 0 || len(self.samples) <= sampleId {
		return false
	}
	self.samples[sampleId].sample = sample
	return true
}

func (self *Module) SampleData(sampleId int) ([]byte, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if sampleId < 0 || len(self.samples) <= sampleId {
		return nil, false
	}
	return slices.Clone(self.samples[sampleId].data), true
}

func (self *Module) SetSampleData(sampleId int, data []byte) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if sampleId < 0 || len(self.samples) <= sampleId {
		return false
	}
	self.samples[sampleId].data = slices.Clone(data)
	return true
}

func (self *Module) InstrumentCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.instruments)
}

func (self *Module) Instrument(instrumentId int) (Instrument, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if instrumentId < 0 || len(self.instruments) <= instrumentId {
		return Instrument{}, false
	}
	return self.instruments[instrumentId].instrument, true
}

func (self *Module) SetInstrument(instrumentId int, instrument Instrument) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if instrumentId < 0 || len(self.instruments) <= instrumentId {
		return false
	}
	self.instruments[instrumentId].instrument = instrument
	return true
}

func (self *Module) Envelope(instrumentId int, envelopeType EnvelopeType) (Envelope, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if instrumentId < 0 || len(self.instruments) <= instrumentId || EnvelopeTypeCount <= envelopeType {
		return Envelope{}, false
	}
	return self.instruments[instrumentId].envelopes[envelopeType].Clone(), true
}

func (self *Module) SetEnvelope(instrumentId int, envelopeType EnvelopeType, envelope Envelope) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if instrumentId < 0 || len(self.instruments) <= instrumentId || EnvelopeTypeCount <= envelopeType {
		return false
	}
	self.instruments[instrumentId].envelopes[envelopeType] = envelope.Clone()
	return true
}

func (self *Module) SequenceCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.sequences)
}

func (self *Module) Sequence(sequenceId int) (Sequence, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if sequenceId < 0 || len(self.sequences) <= sequenceId {
		return Sequence{}, false
	}
	return self.sequences[sequenceId].Clone(), true
}

func (self *Module) SetSequence(sequenceId int, sequence Sequence) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if sequenceId < 0 || len(self.sequences) <= sequenceId {
		return false
	}
	self.sequences[sequenceId] = sequence.Clone()
	return true
}

func (self *Module) ChannelSettings(channel int) (ChannelSettings, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if channel < 0 || len(self.channels) <= channel {
		return ChannelSettings{}, false
	}
	return self.channels[channel], true
}

func (self *Module) SetChannelSettings(channel int, settings ChannelSettings) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if channel < 0 || len(self.channels) <= channel {
		return false
	}
	self.channels[channel] = settings
	return true
}

func (self *Module) PluginCount() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return len(self.plugins)
}

func (self *Module) PluginParameters(slot int) ([]float32, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	if slot < 0 || len(self.plugins) <= slot {
		return nil, false
	}
	return slices.Clone(self.plugins[slot]), true
}

func (self *Module) SetPluginParameter(slot int, index int, value float32) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if slot < 0 || len(self.plugins) <= slot {
		return false
	}
	parameters := self.plugins[slot]
	if index < 0 || len(parameters) <= index {
		return false
	}
	parameters[index] = value
	return true
}

func (self *Module) SetModified() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.modified = true
}

func (self *Module) IsModified() bool {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.modified
}

func (self *Module) ClearModified() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.modified = false
}

// returns an unsubscribe function
func (self *Module) Subscribe(view ViewFunction) func() {
	self.viewsLock.Lock()
	defer self.viewsLock.Unlock()
	viewId := self.nextView
	self.nextView += 1
	self.views[viewId] = view
	return func() {
		self.viewsLock.Lock()
		defer self.viewsLock.Unlock()
		delete(self.views, viewId)
	}
}

// views are called on the caller goroutine, outside of the state lock
func (self *Module) NotifyChanged(hint UpdateHint) {
	var views []ViewFunction
	func() {
		self.viewsLock.Lock()
		defer self.viewsLock.Unlock()
		for _, view := range self.views {
			views = append(views, view)
		}
	}()
	for _, view := range views {
		view(hint)
	}
}
