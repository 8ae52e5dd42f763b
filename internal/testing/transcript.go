// go-uhf
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-uhf.
//
// go-uhf is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-uhf is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-uhf; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transcript is a recorded conversation with a module, keyed by opcode
type Transcript struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step lists the responses a module gives to one opcode. Each request for
// the opcode consumes the next response; the last one repeats.
type Step struct {
	Responses []Reply `yaml:"responses"`
	Opcode    byte    `yaml:"opcode"`
}

// Reply is one response frame
type Reply struct {
	Payload string `yaml:"payload"`
	Status  uint16 `yaml:"status"`
}

// Bytes decodes the hex payload, ignoring spaces
func (r Reply) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(r.Payload, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid payload %q: %w", r.Payload, err)
	}
	return b, nil
}

// LoadTranscript reads a YAML transcript
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return ParseTranscript(data)
}

// ParseTranscript parses a YAML transcript
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	for _, s := range t.Steps {
		if len(s.Responses) == 0 {
			return nil, fmt.Errorf("transcript %q: opcode 0x%02X has no responses", t.Name, s.Opcode)
		}
		for _, r := range s.Responses {
			if _, err := r.Bytes(); err != nil {
				return nil, fmt.Errorf("transcript %q: opcode 0x%02X: %w", t.Name, s.Opcode, err)
			}
		}
	}
	return &t, nil
}
