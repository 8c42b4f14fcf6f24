// Package transcriber turns stored audio blobs into timed transcripts.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/dedup"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

// ProcessedState is the state file name under the worker state directory.
const ProcessedState = "transcriber_processed_files.json"

// RawSegment is one timed span of speech as a recognizer reports it, before
// id assignment and trimming.
type RawSegment struct {
	Text  string
	Start float64
	End   float64
}

// Recognizer converts an audio file into raw timed segments.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) ([]RawSegment, error)
}

// TranscriptKey returns the blob key of the transcript for audio blob key.
func TranscriptKey(key string) string {
	return key + ".transcript.json"
}

// Worker is the transcription stage.
type Worker struct {
	bus        broker.Bus
	store      storage.Store
	recognizer Recognizer
	files      *dedup.Set
}

// New builds a transcriber whose dedup state lives under stateDir.
func New(bus broker.Bus, store storage.Store, recognizer Recognizer, stateDir string) (*Worker, error) {
	files, err := dedup.Load(filepath.Join(stateDir, ProcessedState))
	if err != nil {
		return nil, err
	}
	return &Worker{bus: bus, store: store, recognizer: recognizer, files: files}, nil
}

// Start subscribes the worker to its request topic.
func (w *Worker) Start() {
	w.bus.Subscribe(broker.TopicTranscribeRequest, w.handleTranscribe)
	slog.Info("transcriber started")
}

// Stop persists the dedup state.
func (w *Worker) Stop() {
	if err := w.files.Persist(); err != nil {
		slog.Error("persist transcriber state failed", "error", err)
	}
	slog.Info("transcriber stopped")
}

func (w *Worker) handleTranscribe(msg broker.Message) {
	var req broker.TranscribeRequest
	if err := msg.DecodeData(&req); err != nil || req.FilePath == "" {
		w.publish(broker.TopicTranscribeFailed, broker.Failure{Error: "missing file_path"}, msg.CorrelationID)
		return
	}

	transcriptPath := TranscriptKey(req.FilePath)
	log := slog.With("file_path", req.FilePath, "correlation_id", msg.CorrelationID)

	if w.files.Processed(req.FilePath) {
		log.Info("transcript already cached", "transcript_path", transcriptPath)
		w.publish(broker.TopicTranscribeComplete, broker.TranscribeComplete{
			FilePath:         req.FilePath,
			TranscriptPath:   transcriptPath,
			AlreadyProcessed: true,
		}, msg.CorrelationID)
		return
	}

	if !w.files.TryAcquire(req.FilePath) {
		log.Warn("transcription already in flight")
		w.publish(broker.TopicTranscribeFailed, broker.Failure{
			Error:    "already being processed",
			FilePath: req.FilePath,
		}, msg.CorrelationID)
		return
	}

	if err := w.transcribe(context.Background(), req.FilePath, transcriptPath); err != nil {
		w.files.Release(req.FilePath)
		log.Error("transcription failed", "error", err)
		w.publish(broker.TopicTranscribeFailed, broker.Failure{
			Error:    err.Error(),
			FilePath: req.FilePath,
		}, msg.CorrelationID)
		return
	}

	if err := w.files.MarkProcessed(req.FilePath); err != nil {
		w.files.Release(req.FilePath)
		log.Error("persist transcriber state failed", "error", err)
		w.publish(broker.TopicTranscribeFailed, broker.Failure{
			Error:    err.Error(),
			FilePath: req.FilePath,
		}, msg.CorrelationID)
		return
	}

	log.Info("transcription complete", "transcript_path", transcriptPath)
	w.publish(broker.TopicTranscribeComplete, broker.TranscribeComplete{
		FilePath:       req.FilePath,
		TranscriptPath: transcriptPath,
	}, msg.CorrelationID)
}

// transcribe fetches the audio blob, runs the recognizer and stores the
// transcript next to the audio key.
func (w *Worker) transcribe(ctx context.Context, key, transcriptKey string) error {
	tmp, err := os.CreateTemp("", "podcleaner-audio-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := w.store.DownloadTo(ctx, key, tmp.Name()); err != nil {
		return err
	}

	raw, err := w.recognizer.Transcribe(ctx, tmp.Name())
	if err != nil {
		return err
	}

	transcript := models.NewTranscript(toSegments(raw))
	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if _, err := w.store.Upload(ctx, strings.NewReader(string(data)), transcriptKey); err != nil {
		return err
	}
	return nil
}

// toSegments assigns dense ids and trims recognizer whitespace. Ads are
// unknown at this stage.
func toSegments(raw []RawSegment) []models.Segment {
	segments := make([]models.Segment, 0, len(raw))
	for i, seg := range raw {
		segments = append(segments, models.Segment{
			ID:    i,
			Text:  strings.TrimSpace(seg.Text),
			Start: seg.Start,
			End:   seg.End,
		})
	}
	return segments
}

func (w *Worker) publish(topic string, payload any, correlationID string) {
	if err := w.bus.Publish(broker.NewMessage(topic, payload, correlationID)); err != nil {
		slog.Error("publish failed", "topic", topic, "error", err)
	}
}
