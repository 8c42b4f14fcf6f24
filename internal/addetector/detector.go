// Package addetector classifies transcript segments as advertisements using
// a chat-completion model, then widens the marks with phrase heuristics.
package addetector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/models"
)

// adBlockMaxGap is the largest silence between two ad segments that still
// counts as the same ad break.
const adBlockMaxGap = 5.0

// Detector runs the classification pipeline over a transcript.
type Detector struct {
	cfg        config.LLM
	classifier Classifier
	retryDelay time.Duration
}

// NewDetector builds a detector with the standard retry backoff.
func NewDetector(cfg config.LLM, classifier Classifier) *Detector {
	return &Detector{cfg: cfg, classifier: classifier, retryDelay: 2 * time.Second}
}

// DetectAds classifies every segment of the transcript and returns a new
// transcript with ads marked. Chunks whose classification failed after all
// retries keep their prior marks; their errors are returned alongside.
func (d *Detector) DetectAds(ctx context.Context, transcript *models.Transcript) (*models.Transcript, []string) {
	chunks := d.createChunks(transcript)
	slog.Info("ad detection started",
		"total_chunks", len(chunks),
		"total_segments", len(transcript.Segments))

	// A chunk retry could deliver a segment twice; the map keeps one copy
	// per id.
	processed := make(map[int]models.Segment)
	var errs []string

	for _, chunk := range chunks {
		result := d.processChunk(ctx, chunk)
		for _, seg := range result.Segments {
			processed[seg.ID] = seg
		}
		if result.Err != "" {
			errs = append(errs, fmt.Sprintf("chunk %d: %s", result.ChunkID, result.Err))
		}
	}

	segments := make([]models.Segment, 0, len(processed))
	for _, chunk := range chunks {
		for _, seg := range chunk.Segments {
			if got, ok := processed[seg.ID]; ok {
				segments = append(segments, got)
			}
		}
	}

	d.mergeAdjacentAds(segments)

	blocks := AdBlocks(segments, adBlockMaxGap)
	for i, block := range blocks {
		slog.Info("ad block detected",
			"block_number", i+1,
			"start_segment", block[0].ID,
			"end_segment", block[len(block)-1].ID,
			"start_time", block[0].Start,
			"end_time", block[len(block)-1].End,
			"duration", block[len(block)-1].End-block[0].Start,
			"segment_count", len(block))
	}

	adCount := 0
	for _, seg := range segments {
		if seg.IsAd {
			adCount++
		}
	}
	if len(errs) > 0 {
		slog.Warn("ad detection completed with errors",
			"error_count", len(errs), "total_segments", len(segments))
	} else {
		slog.Info("ad detection completed",
			"total_segments", len(segments), "ad_segments", adCount, "ad_blocks", len(blocks))
	}

	return models.NewTranscript(segments), errs
}

// createChunks splits the transcript into contiguous fixed-size chunks. The
// segments are copied so retries never see partially mutated state.
func (d *Detector) createChunks(transcript *models.Transcript) []models.TranscriptChunk {
	size := d.cfg.ChunkSize
	if size <= 0 {
		size = 600
	}
	var chunks []models.TranscriptChunk
	for i := 0; i < len(transcript.Segments); i += size {
		end := i + size
		if end > len(transcript.Segments) {
			end = len(transcript.Segments)
		}
		segments := make([]models.Segment, end-i)
		copy(segments, transcript.Segments[i:end])
		chunks = append(chunks, models.TranscriptChunk{Segments: segments, ChunkID: i / size})
	}
	return chunks
}

func (d *Detector) buildPrompt(chunk models.TranscriptChunk) []ChatMessage {
	var sb strings.Builder
	for i, seg := range chunk.Segments {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "ID: %d Text: %s", seg.ID, seg.Text)
	}

	return []ChatMessage{
		{
			Role: "system",
			Content: "You are an AI trained to detect advertisements and sponsored content in podcast transcripts. " +
				"Consider the following patterns for ads:\n" +
				"1. Transition phrases like 'We'll be right back', 'After this break', etc.\n" +
				"2. Promotional content for events, products, or services\n" +
				"3. Call to action phrases like 'Visit our website', 'Use code X for discount'\n" +
				"4. Sponsor mentions and sponsored content\n" +
				"5. Advertisement blocks that start with a transition and end with a return phrase\n\n" +
				"You must respond with ONLY a JSON object containing segment classifications. " +
				"The response must be a valid JSON object with a 'segments' array containing " +
				"'id' (integer) and 'ad' (boolean) fields for each segment. " +
				"Do not include any explanations or additional text in your response.",
		},
		{
			Role: "user",
			Content: "Review the transcript as a continuous text and identify complete advertisement blocks.\n" +
				"Important rules:\n" +
				"1. If you find a transition to ads (like 'We'll be back after this'), mark it AND the following segments as ads\n" +
				"2. If segments are part of the same ad block, they should ALL be marked as ads\n" +
				"3. Look for return phrases (like 'Welcome back') to identify where ad blocks end\n" +
				"4. Consider promotional content (event announcements, product placements) as ads\n\n" +
				fmt.Sprintf("Segments to analyze:\n%s\n\n", sb.String()) +
				"Return ONLY a JSON object with this structure:\n" +
				"{\n" +
				"    \"segments\": [\n" +
				"        {\"id\": <segment_id>, \"ad\": true/false},\n" +
				"        ...\n" +
				"    ]\n" +
				"}\n",
		},
	}
}

type classification struct {
	Segments []struct {
		ID int   `json:"id"`
		Ad *bool `json:"ad"`
	} `json:"segments"`
}

// processChunk classifies one chunk, retrying on any error. On exhaustion
// the chunk's segments are returned unmodified together with the last error.
func (d *Detector) processChunk(ctx context.Context, chunk models.TranscriptChunk) models.ProcessingResult {
	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("processing chunk",
			"chunk_id", chunk.ChunkID, "segment_count", len(chunk.Segments), "attempt", attempt)

		segments, err := d.classifyOnce(ctx, chunk)
		if err == nil {
			return models.ProcessingResult{ChunkID: chunk.ChunkID, Segments: segments}
		}

		lastErr = err.Error()
		slog.Warn("chunk classification failed",
			"chunk_id", chunk.ChunkID,
			"attempt", attempt,
			"error", lastErr,
			"remaining_attempts", maxAttempts-attempt)
		if attempt < maxAttempts {
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return models.ProcessingResult{ChunkID: chunk.ChunkID, Segments: chunk.Segments, Err: ctx.Err().Error()}
			}
		}
	}

	return models.ProcessingResult{ChunkID: chunk.ChunkID, Segments: chunk.Segments, Err: lastErr}
}

func (d *Detector) classifyOnce(ctx context.Context, chunk models.TranscriptChunk) ([]models.Segment, error) {
	content, err := d.classifier.Classify(ctx, d.buildPrompt(chunk), d.cfg.Temperature)
	if err != nil {
		return nil, err
	}

	var parsed classification
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse classification response: %w", err)
	}

	marks := make(map[int]bool, len(parsed.Segments))
	for _, entry := range parsed.Segments {
		if entry.Ad != nil {
			marks[entry.ID] = *entry.Ad
		}
	}

	// Segments missing from the response keep their prior mark.
	segments := make([]models.Segment, len(chunk.Segments))
	copy(segments, chunk.Segments)
	for i := range segments {
		if isAd, ok := marks[segments[i].ID]; ok {
			segments[i].IsAd = isAd
		}
	}
	return segments, nil
}

// mergeAdjacentAds widens the model's marks with phrase heuristics: a
// transition phrase opens an ad block, promotional wording extends it, and
// short narration bridging two marked segments is absorbed into the block.
func (d *Detector) mergeAdjacentAds(segments []models.Segment) {
	ads := make(map[int]struct{})
	for i, seg := range segments {
		if seg.IsAd {
			ads[i] = struct{}{}
		}
	}
	if len(ads) == 0 {
		return
	}

	for i := range segments {
		if _, ok := ads[i]; ok {
			continue
		}
		if !containsAny(segments[i].Text, d.cfg.TransitionPhrases) {
			continue
		}
		segments[i].IsAd = true
		ads[i] = struct{}{}

		for j := i + 1; j < len(segments); {
			_, marked := ads[j]
			if marked || containsAny(segments[j].Text, d.cfg.PromotionalIndicators) {
				segments[j].IsAd = true
				ads[j] = struct{}{}
				j++
				continue
			}
			next, nextMarked := j+1, false
			if next < len(segments) {
				_, nextMarked = ads[next]
			}
			if nextMarked && segments[next].Start-segments[j].End <= adBlockMaxGap {
				segments[j].IsAd = true
				ads[j] = struct{}{}
				j++
				continue
			}
			break
		}
	}
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// AdBlocks groups consecutive ad-marked segments into blocks. A non-ad
// segment or a gap above maxGap seconds closes the current block.
func AdBlocks(segments []models.Segment, maxGap float64) [][]models.Segment {
	var blocks [][]models.Segment
	var current []models.Segment

	for _, seg := range segments {
		switch {
		case seg.IsAd && len(current) == 0:
			current = []models.Segment{seg}
		case seg.IsAd && seg.Start-current[len(current)-1].End <= maxGap:
			current = append(current, seg)
		case seg.IsAd:
			blocks = append(blocks, current)
			current = []models.Segment{seg}
		case len(current) > 0:
			blocks = append(blocks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}
