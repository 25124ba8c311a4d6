// SPDX-License-Identifier: MIT

package campaign

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }
func boolPtr(b bool) *bool           { return &b }

func TestState_IsValid(t *testing.T) {
	assert.True(t, StateUpcoming.IsValid())
	assert.True(t, StateActive.IsValid())
	assert.True(t, StateEnded.IsValid())
	assert.False(t, State("paused").IsValid())
	assert.False(t, State("").IsValid())
}

func TestState_UnmarshalJSON_Invalid(t *testing.T) {
	var s State
	err := json.Unmarshal([]byte(`"running"`), &s)
	assert.Error(t, err)
}

func TestCampaign_StateAt(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	before := now.Add(-24 * time.Hour)
	after := now.Add(24 * time.Hour)

	tests := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  State
	}{
		{"inside window", timePtr(before), timePtr(after), StateActive},
		{"before start", timePtr(after), timePtr(after.Add(time.Hour)), StateUpcoming},
		{"after end", timePtr(before.Add(-time.Hour)), timePtr(before), StateEnded},
		{"no dates is always active", nil, nil, StateActive},
		{"only end, not yet reached", nil, timePtr(after), StateActive},
		{"only end, passed", nil, timePtr(before), StateEnded},
		{"only start, not yet reached", timePtr(after), nil, StateUpcoming},
		{"only start, passed", timePtr(before), nil, StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{ID: 14, StartDate: tt.start, EndDate: tt.end}
			assert.Equal(t, tt.want, c.StateAt(now))
		})
	}
}

func TestCampaign_UnmarshalJSON(t *testing.T) {
	raw := []byte(`{
		"id": 14,
		"startDate": "2026-06-01T00:00:00Z",
		"endDate": "2026-06-30T23:59:59.999Z",
		"isPaused": false
	}`)

	var c Campaign
	require.NoError(t, json.Unmarshal(raw, &c))

	assert.Equal(t, 14, c.ID)
	require.NotNil(t, c.StartDate)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), c.StartDate.UTC())
	require.NotNil(t, c.EndDate)
	require.NotNil(t, c.IsPaused)
	assert.False(t, *c.IsPaused)
}

func TestCampaign_UnmarshalJSON_PausedVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *bool
	}{
		{"bool true", `{"id":1,"isPaused":true}`, boolPtr(true)},
		{"bool false", `{"id":1,"isPaused":false}`, boolPtr(false)},
		{"string true", `{"id":1,"isPaused":"true"}`, boolPtr(true)},
		{"string True mixed case", `{"id":1,"isPaused":"True"}`, boolPtr(true)},
		{"string false", `{"id":1,"isPaused":"false"}`, boolPtr(false)},
		{"absent", `{"id":1}`, nil},
		{"null", `{"id":1,"isPaused":null}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Campaign
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &c))
			if tt.want == nil {
				assert.Nil(t, c.IsPaused)
			} else {
				require.NotNil(t, c.IsPaused)
				assert.Equal(t, *tt.want, *c.IsPaused)
			}
		})
	}
}

func TestCampaign_UnmarshalJSON_BadPaused(t *testing.T) {
	var c Campaign
	err := json.Unmarshal([]byte(`{"id":1,"isPaused":3}`), &c)
	assert.Error(t, err)
}

func TestCampaign_UnmarshalJSON_BadDate(t *testing.T) {
	var c Campaign
	err := json.Unmarshal([]byte(`{"id":1,"startDate":"tomorrow"}`), &c)
	assert.Error(t, err)
}

func TestCampaign_Merge(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	base := Campaign{ID: 14, StartDate: &start, IsPaused: boolPtr(false)}
	update := Campaign{EndDate: &end, IsPaused: boolPtr(true)}

	merged := base.Merge(update)
	assert.Equal(t, 14, merged.ID, "zero update id keeps prior id")
	assert.Equal(t, &start, merged.StartDate, "nil update field keeps prior value")
	assert.Equal(t, &end, merged.EndDate)
	assert.True(t, *merged.IsPaused, "non-nil update field wins")
}

func TestDecodeComponents_Wrapped(t *testing.T) {
	raw := []byte(`{"components":[
		{"componentId":"15","status":"active","component":{"type":"product_banner","name":"Banner","config":{"color":"red"}}},
		{"componentId":"16","status":"inactive","customConfig":{"size":"xl"},"component":{"type":"countdown","config":{"size":"s"}}}
	]}`)

	comps, err := DecodeComponents(raw)
	require.NoError(t, err)
	require.Len(t, comps, 2)

	assert.Equal(t, "15", comps[0].ID)
	assert.Equal(t, "product_banner", comps[0].Type)
	assert.Equal(t, "Banner", comps[0].Name)
	assert.True(t, comps[0].IsActive())
	assert.JSONEq(t, `{"color":"red"}`, string(comps[0].Config))

	assert.False(t, comps[1].IsActive())
	assert.JSONEq(t, `{"size":"xl"}`, string(comps[1].Config), "customConfig overrides base config")
}

func TestDecodeComponents_BareArray(t *testing.T) {
	raw := []byte(`[{"componentId":"15","status":"active","component":{"type":"chat"}}]`)

	comps, err := DecodeComponents(raw)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "chat", comps[0].Type)
}

func TestDecodeComponents_Malformed(t *testing.T) {
	_, err := DecodeComponents([]byte(`{"components": "nope"}`))
	assert.Error(t, err)
}
