// Package models holds the domain types shared by the PodCleaner pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Segment is a single unit of transcribed audio with timing and an ad label.
type Segment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	IsAd  bool    `json:"is_ad"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// TranscriptChunk is a contiguous slice of segments handed to the classifier
// as one request.
type TranscriptChunk struct {
	Segments []Segment
	ChunkID  int
}

// ProcessingResult is the outcome of classifying one chunk. Err is set when
// every attempt for the chunk failed; the segments are then unmodified.
type ProcessingResult struct {
	ChunkID  int
	Segments []Segment
	Err      string
}

// Transcript is a complete podcast transcript.
type Transcript struct {
	Segments    []Segment
	ProcessedAt time.Time
}

// NewTranscript creates a transcript stamped with the current time.
func NewTranscript(segments []Segment) *Transcript {
	return &Transcript{Segments: segments, ProcessedAt: time.Now().UTC()}
}

// AdSegments returns the segments marked as advertisements.
func (t *Transcript) AdSegments() []Segment {
	var ads []Segment
	for _, seg := range t.Segments {
		if seg.IsAd {
			ads = append(ads, seg)
		}
	}
	return ads
}

// NonAdSegments returns the segments not marked as advertisements.
func (t *Transcript) NonAdSegments() []Segment {
	var out []Segment
	for _, seg := range t.Segments {
		if !seg.IsAd {
			out = append(out, seg)
		}
	}
	return out
}

type transcriptJSON struct {
	Segments    []Segment `json:"segments"`
	ProcessedAt string    `json:"processed_at"`
}

// MarshalJSON encodes the transcript with an ISO-8601 processed_at stamp.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	segs := t.Segments
	if segs == nil {
		segs = []Segment{}
	}
	return json.Marshal(transcriptJSON{
		Segments:    segs,
		ProcessedAt: t.ProcessedAt.Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes the transcript wire form, tolerating unknown keys.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var wire transcriptJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}
	processedAt, err := time.Parse(time.RFC3339Nano, wire.ProcessedAt)
	if err != nil {
		return fmt.Errorf("decode transcript processed_at: %w", err)
	}
	t.Segments = wire.Segments
	t.ProcessedAt = processedAt
	return nil
}

// Episode is one entry of a podcast feed. AudioURL may be rewritten to point
// back at the processing server, in which case OriginalURL keeps the source.
type Episode struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   string `json:"published"`
	AudioURL    string `json:"audio_url"`
	OriginalURL string `json:"original_url,omitempty"`
}

// PodcastInfo is the parsed metadata of an RSS feed.
type PodcastInfo struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Episodes    []Episode `json:"episodes"`
}
