package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentDuration(t *testing.T) {
	seg := Segment{Start: 10.5, End: 14.0}
	assert.InDelta(t, 3.5, seg.Duration(), 1e-9)
}

func TestTranscriptJSONRoundTrip(t *testing.T) {
	original := &Transcript{
		Segments: []Segment{
			{ID: 0, Text: "hello", Start: 0, End: 1.5},
			{ID: 1, Text: "buy our product", Start: 1.5, End: 4.2, IsAd: true},
		},
		ProcessedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Transcript
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.Segments, decoded.Segments)
	assert.True(t, original.ProcessedAt.Equal(decoded.ProcessedAt))
}

func TestTranscriptJSONShape(t *testing.T) {
	transcript := NewTranscript([]Segment{{ID: 3, Text: "x", Start: 1, End: 2, IsAd: true}})

	data, err := json.Marshal(transcript)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Contains(t, wire, "segments")
	require.Contains(t, wire, "processed_at")

	segments := wire["segments"].([]any)
	require.Len(t, segments, 1)
	seg := segments[0].(map[string]any)
	assert.Equal(t, float64(3), seg["id"])
	assert.Equal(t, true, seg["is_ad"])
}

func TestTranscriptEmptySegmentsMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(NewTranscript(nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"segments":[]`)
}

func TestAdAndNonAdSegments(t *testing.T) {
	transcript := NewTranscript([]Segment{
		{ID: 0, IsAd: false},
		{ID: 1, IsAd: true},
		{ID: 2, IsAd: true},
		{ID: 3, IsAd: false},
	})

	ads := transcript.AdSegments()
	require.Len(t, ads, 2)
	assert.Equal(t, 1, ads[0].ID)
	assert.Equal(t, 2, ads[1].ID)

	content := transcript.NonAdSegments()
	require.Len(t, content, 2)
	assert.Equal(t, 0, content[0].ID)
	assert.Equal(t, 3, content[1].ID)
}
