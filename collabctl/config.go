package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bringyour/collab/collab/model"
)

// HostConfig lists the documents a host exposes.
//
//	tcp_address: ":7420"
//	ws_address: ":7421"
//	sessions:
//	  - name: song.it
//	    channels: 8
//	    patterns: [64, 64]
//	    max_editors: 2
//	    max_observers: 8
//	    password_prompt: true
type HostConfig struct {
	TcpAddress string          `yaml:"tcp_address"`
	WsAddress  string          `yaml:"ws_address"`
	Sessions   []SessionConfig `yaml:"sessions"`
}

type SessionConfig struct {
	Name string `yaml:"name"`

	// a saved document snapshot. When set the shape fields below are ignored.
	Snapshot string `yaml:"snapshot,omitempty"`
	// write the document back to `Snapshot` on exit if it was modified
	SaveOnExit bool `yaml:"save_on_exit,omitempty"`

	Channels int   `yaml:"channels"`
	Patterns []int `yaml:"patterns"`
	Samples  int   `yaml:"samples,omitempty"`
	// per slot parameter counts
	Plugins []int `yaml:"plugins,omitempty"`

	MaxEditors   int `yaml:"max_editors"`
	MaxObservers int `yaml:"max_observers"`

	Password       string `yaml:"password,omitempty"`
	PasswordPrompt bool   `yaml:"password_prompt,omitempty"`
}

func LoadHostConfig(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHostConfig(data)
}

func ParseHostConfig(data []byte) (*HostConfig, error) {
	config := &HostConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("host config: %w", err)
	}
	if len(config.Sessions) == 0 {
		return nil, errors.New("host config: no sessions")
	}
	names := map[string]bool{}
	for i, session := range config.Sessions {
		if session.Name == "" {
			return nil, fmt.Errorf("host config: session %d has no name", i)
		}
		if names[session.Name] {
			return nil, fmt.Errorf("host config: duplicate session \"%s\"", session.Name)
		}
		names[session.Name] = true
		if session.MaxEditors < 0 || session.MaxObservers < 0 {
			return nil, fmt.Errorf("host config: session \"%s\" has negative capacity", session.Name)
		}
		if session.MaxEditors == 0 && session.MaxObservers == 0 {
			return nil, fmt.Errorf("host config: session \"%s\" has no capacity", session.Name)
		}
		if session.SaveOnExit && session.Snapshot == "" {
			return nil, fmt.Errorf("host config: session \"%s\" saves on exit without a snapshot path", session.Name)
		}
	}
	return config, nil
}

// builds the document for the session, from the snapshot file when one exists
func (self *SessionConfig) NewModule() (*model.Module, error) {
	module := model.NewModule(self.Name, self.Channels)
	if self.Snapshot != "" {
		snapshot, err := os.ReadFile(self.Snapshot)
		if err == nil {
			if err := module.Restore(snapshot); err != nil {
				return nil, fmt.Errorf("session \"%s\" snapshot: %w", self.Name, err)
			}
			return module, nil
		}
		if !errors.Is(err, os.ErrNotExist) || !self.SaveOnExit {
			return nil, err
		}
		// a new document that is saved on exit
	}

	for i, rows := range self.Patterns {
		module.AddPattern(fmt.Sprintf("pattern %d", i), rows)
	}
	for i := 0; i < self.Samples; i += 1 {
		module.AddSample(model.Sample{
			Name:         fmt.Sprintf("sample %d", i),
			C5Speed:      8363,
			Volume:       64,
			GlobalVolume: 64,
			Pan:          128,
		}, nil)
	}
	for _, parameterCount := range self.Plugins {
		module.AddPlugin(parameterCount)
	}
	module.AddSequence(model.Sequence{Name: "main"})
	return module, nil
}

func (self *SessionConfig) Save(module *model.Module) error {
	snapshot, err := module.Snapshot()
	if err != nil {
		return err
	}
	if err := os.WriteFile(self.Snapshot, snapshot, 0644); err != nil {
		return err
	}
	module.ClearModified()
	return nil
}
