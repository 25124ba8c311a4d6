// SPDX-License-Identifier: MIT

package campaign

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Component statuses as the backend reports them.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Component is a campaign component assignment: a typed widget attached to a
// campaign, carrying its merged configuration payload.
type Component struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Status string          `json:"status"`
	Config json.RawMessage `json:"config,omitempty"`
}

// IsActive reports whether the component should currently render.
func (c Component) IsActive() bool {
	return strings.EqualFold(c.Status, StatusActive)
}

// componentWire is the snapshot shape for a single component assignment. The
// per-campaign customConfig overrides the component's base config when set.
type componentWire struct {
	ComponentID  string          `json:"componentId"`
	Status       string          `json:"status"`
	CustomConfig json.RawMessage `json:"customConfig"`
	Component    struct {
		Type   string          `json:"type"`
		Name   string          `json:"name"`
		Config json.RawMessage `json:"config"`
	} `json:"component"`
}

func (w componentWire) toComponent() Component {
	cfg := w.Component.Config
	if len(w.CustomConfig) > 0 && string(w.CustomConfig) != "null" {
		cfg = w.CustomConfig
	}
	return Component{
		ID:     w.ComponentID,
		Type:   w.Component.Type,
		Name:   w.Component.Name,
		Status: w.Status,
		Config: cfg,
	}
}

// DecodeComponents parses a components response. The endpoint has shipped two
// shapes over time: an object wrapping a "components" array, and a bare array.
func DecodeComponents(data []byte) ([]Component, error) {
	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	var wires []componentWire
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			Components []componentWire `json:"components"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
		wires = wrapper.Components
	} else {
		if err := json.Unmarshal(data, &wires); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
	}

	out := make([]Component, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.toComponent())
	}
	return out, nil
}
