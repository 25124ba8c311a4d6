// SPDX-License-Identifier: MIT

// Package campaign holds the campaign domain model: the campaign and
// component types, the lifecycle event union, the state machine that gates
// component activation, and the active-component registry.
package campaign

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NoCampaignID is the sentinel meaning "no campaign governs this session":
// all gating is bypassed and every component may show.
const NoCampaignID = 0

// State is the date-derived lifecycle state of a campaign. Paused is not a
// State: it is an orthogonal flag that overrides the effective gating outcome
// while leaving the displayed state untouched.
type State string

const (
	// StateUpcoming indicates now is before the campaign start date.
	StateUpcoming State = "upcoming"

	// StateActive indicates now is inside the campaign validity window.
	StateActive State = "active"

	// StateEnded indicates now is after the campaign end date.
	StateEnded State = "ended"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is one of the defined values.
func (s State) IsValid() bool {
	switch s {
	case StateUpcoming, StateActive, StateEnded:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := State(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid campaign state: %q", str)
	}
	*s = state
	return nil
}

// Campaign is the (possibly partial) campaign snapshot. Events may arrive
// before any snapshot exists, in which case a partial Campaign is synthesized
// with nil optional fields and filled in as data arrives.
type Campaign struct {
	ID        int        `json:"id"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	IsPaused  *bool      `json:"isPaused,omitempty"`
}

// StateAt computes the date-derived state at the given instant.
//
// Edge cases follow the backend contract:
//   - no dates: always active (legacy always-on campaign)
//   - only endDate: active until the end date
//   - only startDate: upcoming before start, active forever after
func (c Campaign) StateAt(now time.Time) State {
	start, end := c.StartDate, c.EndDate

	switch {
	case start == nil && end == nil:
		return StateActive
	case start == nil:
		if now.After(*end) {
			return StateEnded
		}
		return StateActive
	case end == nil:
		if now.Before(*start) {
			return StateUpcoming
		}
		return StateActive
	default:
		if now.Before(*start) {
			return StateUpcoming
		}
		if now.After(*end) {
			return StateEnded
		}
		return StateActive
	}
}

// Paused reports whether the paused flag is known and set.
func (c Campaign) Paused() bool {
	return c.IsPaused != nil && *c.IsPaused
}

// Merge combines c with an update; non-nil fields of the update win, nil
// fields keep the prior value. A non-zero update ID replaces the prior ID.
func (c Campaign) Merge(update Campaign) Campaign {
	out := c
	if update.ID != 0 {
		out.ID = update.ID
	}
	if update.StartDate != nil {
		out.StartDate = update.StartDate
	}
	if update.EndDate != nil {
		out.EndDate = update.EndDate
	}
	if update.IsPaused != nil {
		out.IsPaused = update.IsPaused
	}
	return out
}

// UnmarshalJSON decodes the backend campaign shape. Dates arrive as ISO 8601
// strings; isPaused arrives as a bool or as the strings "true"/"false".
func (c *Campaign) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID        int             `json:"id"`
		StartDate *string         `json:"startDate"`
		EndDate   *string         `json:"endDate"`
		IsPaused  json.RawMessage `json:"isPaused"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	c.ID = wire.ID

	var err error
	if c.StartDate, err = parseOptionalTime(wire.StartDate); err != nil {
		return fmt.Errorf("startDate: %w", err)
	}
	if c.EndDate, err = parseOptionalTime(wire.EndDate); err != nil {
		return fmt.Errorf("endDate: %w", err)
	}
	if c.IsPaused, err = parseFlexBool(wire.IsPaused); err != nil {
		return fmt.Errorf("isPaused: %w", err)
	}
	return nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseFlexBool accepts JSON booleans and the strings "true"/"false", which
// some backend deployments emit for isPaused.
func parseFlexBool(raw json.RawMessage) (*bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v := strings.EqualFold(s, "true")
		return &v, nil
	}
	return nil, fmt.Errorf("expected bool or string, got %s", raw)
}
