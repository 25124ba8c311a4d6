// SPDX-License-Identifier: MIT

package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event type discriminators carried on the wire.
const (
	EventTypeCampaignStarted        = "campaign_started"
	EventTypeCampaignEnded          = "campaign_ended"
	EventTypeCampaignPaused         = "campaign_paused"
	EventTypeCampaignResumed        = "campaign_resumed"
	EventTypeComponentStatusChanged = "component_status_changed"
	EventTypeComponentConfigUpdated = "component_config_updated"
)

// ErrUnknownEventType marks a well-formed frame whose type is not one the
// engine understands. Callers skip the frame; newer backends may emit types
// this build predates.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is a lifecycle or component event from the campaign stream.
type Event interface {
	// EventType returns the wire discriminator.
	EventType() string
}

// CampaignStarted announces a campaign going live, carrying its validity
// window when the backend knows it.
type CampaignStarted struct {
	CampaignID int
	StartDate  *string
	EndDate    *string
}

// CampaignEnded announces the end of a campaign, carrying the final end date
// when the backend includes one.
type CampaignEnded struct {
	CampaignID int
	EndDate    *string
}

// CampaignPaused suspends the campaign without changing its lifecycle state.
type CampaignPaused struct {
	CampaignID int
}

// CampaignResumed lifts a pause.
type CampaignResumed struct {
	CampaignID int
}

// ComponentStatusChanged toggles a single component. Component carries the
// full payload when the backend includes one; it is nil for bare toggles.
type ComponentStatusChanged struct {
	ComponentID string
	Status      string
	Component   *Component
}

// ComponentConfigUpdated replaces a component's configuration in place.
type ComponentConfigUpdated struct {
	ComponentID string
	Component   *Component
}

func (CampaignStarted) EventType() string        { return EventTypeCampaignStarted }
func (CampaignEnded) EventType() string          { return EventTypeCampaignEnded }
func (CampaignPaused) EventType() string         { return EventTypeCampaignPaused }
func (CampaignResumed) EventType() string        { return EventTypeCampaignResumed }
func (ComponentStatusChanged) EventType() string { return EventTypeComponentStatusChanged }
func (ComponentConfigUpdated) EventType() string { return EventTypeComponentConfigUpdated }

// flexString decodes a JSON string or number into a string. Component ids
// arrive as strings in the legacy shape and as numbers in the data-wrapped
// shape.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", data)
}

// eventWire covers both shapes the stream has emitted: a flat legacy shape
// with fields at the root, and a newer shape nesting them under "data".
type eventWire struct {
	Type       string  `json:"type"`
	CampaignID int     `json:"campaignId"`
	StartDate  *string `json:"startDate"`
	EndDate    *string `json:"endDate"`

	ComponentID flexString `json:"componentId"`
	Status      string     `json:"status"`
	Component   *struct {
		ID     flexString      `json:"id"`
		Type   string          `json:"type"`
		Name   string          `json:"name"`
		Config json.RawMessage `json:"config"`
	} `json:"component"`

	Data *struct {
		CampaignID          int             `json:"campaignId"`
		ComponentID         flexString      `json:"componentId"`
		CampaignComponentID int             `json:"campaignComponentId"`
		ComponentType       string          `json:"componentType"`
		Status              string          `json:"status"`
		Config              json.RawMessage `json:"config"`
		StartDate           *string         `json:"startDate"`
		EndDate             *string         `json:"endDate"`
	} `json:"data"`
}

// component assembles a Component from whichever shape the frame used.
func (w eventWire) component() (string, *Component) {
	if w.Data != nil {
		id := string(w.Data.ComponentID)
		if id == "" && w.Data.CampaignComponentID != 0 {
			id = strconv.Itoa(w.Data.CampaignComponentID)
		}
		if w.Data.ComponentType == "" && len(w.Data.Config) == 0 {
			return id, nil
		}
		return id, &Component{
			ID:     id,
			Type:   w.Data.ComponentType,
			Status: w.Data.Status,
			Config: w.Data.Config,
		}
	}

	id := string(w.ComponentID)
	if w.Component == nil {
		return id, nil
	}
	if id == "" {
		id = string(w.Component.ID)
	}
	return id, &Component{
		ID:     id,
		Type:   w.Component.Type,
		Name:   w.Component.Name,
		Status: w.Status,
		Config: w.Component.Config,
	}
}

func (w eventWire) status() string {
	if w.Data != nil && w.Data.Status != "" {
		return w.Data.Status
	}
	return w.Status
}

func (w eventWire) campaignID() int {
	if w.Data != nil && w.Data.CampaignID != 0 {
		return w.Data.CampaignID
	}
	return w.CampaignID
}

// DecodeEvent parses one stream frame. Frames with an unrecognized type
// return ErrUnknownEventType; any other error means the frame is malformed.
func DecodeEvent(data []byte) (Event, error) {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if w.Type == "" {
		return nil, errors.New("decode event: missing type")
	}

	switch w.Type {
	case EventTypeCampaignStarted:
		ev := CampaignStarted{CampaignID: w.campaignID(), StartDate: w.StartDate, EndDate: w.EndDate}
		if w.Data != nil {
			if w.Data.StartDate != nil {
				ev.StartDate = w.Data.StartDate
			}
			if w.Data.EndDate != nil {
				ev.EndDate = w.Data.EndDate
			}
		}
		return ev, nil

	case EventTypeCampaignEnded:
		ev := CampaignEnded{CampaignID: w.campaignID(), EndDate: w.EndDate}
		if w.Data != nil && w.Data.EndDate != nil {
			ev.EndDate = w.Data.EndDate
		}
		return ev, nil

	case EventTypeCampaignPaused:
		return CampaignPaused{CampaignID: w.campaignID()}, nil

	case EventTypeCampaignResumed:
		return CampaignResumed{CampaignID: w.campaignID()}, nil

	case EventTypeComponentStatusChanged:
		id, comp := w.component()
		status := w.status()
		if id == "" {
			return nil, errors.New("decode event: component_status_changed missing componentId")
		}
		if status == "" {
			return nil, errors.New("decode event: component_status_changed missing status")
		}
		return ComponentStatusChanged{ComponentID: id, Status: status, Component: comp}, nil

	case EventTypeComponentConfigUpdated:
		id, comp := w.component()
		if id == "" {
			return nil, errors.New("decode event: component_config_updated missing componentId")
		}
		return ComponentConfigUpdated{ComponentID: id, Component: comp}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}
}
