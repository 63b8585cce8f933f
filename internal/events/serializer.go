// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package events

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Marshal encodes an event for the wire. Events with a Validate method
// are validated first so malformed facts never leave the process.
func Marshal(event any) ([]byte, error) {
	if v, ok := event.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validate event: %w", err)
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire payload into the given event struct.
func Unmarshal(data []byte, event any) error {
	if err := json.Unmarshal(data, event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	return nil
}
