package audioproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

// CleanKey maps an audio blob key to the key of its cleaned rendition. The
// container format is kept; keys without an extension get .mp3.
func CleanKey(key string) string {
	ext := path.Ext(key)
	if ext == "" {
		return key + "_clean.mp3"
	}
	return key[:len(key)-len(ext)] + "_clean" + ext
}

// Worker is the ad-cutting stage. There is no persisted dedup set; the
// existence of the cleaned blob is the replay check.
type Worker struct {
	bus    broker.Bus
	store  storage.Store
	editor Editor
	cfg    config.Audio
}

// NewWorker builds the audio processing worker.
func NewWorker(bus broker.Bus, store storage.Store, editor Editor, cfg config.Audio) *Worker {
	return &Worker{bus: bus, store: store, editor: editor, cfg: cfg}
}

// Start subscribes the worker to its request topic.
func (w *Worker) Start() {
	w.bus.Subscribe(broker.TopicAudioProcessingRequest, w.handleProcessing)
	slog.Info("audio processor started")
}

// Stop is a no-op; the worker keeps no unsaved state.
func (w *Worker) Stop() {
	slog.Info("audio processor stopped")
}

func (w *Worker) handleProcessing(msg broker.Message) {
	var req broker.AudioProcessingRequest
	if err := msg.DecodeData(&req); err != nil || req.FilePath == "" || req.TranscriptPath == "" {
		w.publish(broker.TopicAudioProcessingFailed, broker.Failure{Error: "missing file_path or transcript_path"}, msg.CorrelationID)
		return
	}

	ctx := context.Background()
	outputKey := CleanKey(req.FilePath)
	log := slog.With("file_path", req.FilePath, "correlation_id", msg.CorrelationID)

	exists, err := w.store.Exists(ctx, outputKey)
	if err == nil && exists {
		log.Info("cleaned audio already stored", "output_path", outputKey)
		w.publish(broker.TopicAudioProcessingComplete, broker.AudioProcessingComplete{
			InputPath:        req.FilePath,
			OutputPath:       outputKey,
			AlreadyProcessed: true,
		}, msg.CorrelationID)
		return
	}

	outputPath, err := w.process(ctx, req.FilePath, req.TranscriptPath, outputKey)
	if err != nil {
		log.Error("audio processing failed", "error", err)
		w.publish(broker.TopicAudioProcessingFailed, broker.Failure{
			Error:          err.Error(),
			FilePath:       req.FilePath,
			TranscriptPath: req.TranscriptPath,
		}, msg.CorrelationID)
		return
	}

	log.Info("audio processing complete", "output_path", outputPath)
	w.publish(broker.TopicAudioProcessingComplete, broker.AudioProcessingComplete{
		InputPath:  req.FilePath,
		OutputPath: outputPath,
	}, msg.CorrelationID)
}

// process computes the cut set and renders the cleaned audio. When nothing
// is worth cutting, the input blob doubles as the output.
func (w *Worker) process(ctx context.Context, key, transcriptKey, outputKey string) (string, error) {
	data, err := w.store.Download(ctx, transcriptKey)
	if err != nil {
		return "", err
	}
	var transcript models.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}

	cuts := MergeIntervals(AdIntervals(transcript.Segments), w.cfg.MinDuration, w.cfg.MaxGap)
	if len(cuts) == 0 {
		slog.Info("no ad intervals to cut", "file_path", key)
		return key, nil
	}

	ext := path.Ext(outputKey)
	input, err := os.CreateTemp("", "podcleaner-cut-in-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	input.Close()
	defer os.Remove(input.Name())

	output, err := os.CreateTemp("", "podcleaner-cut-out-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	output.Close()
	defer os.Remove(output.Name())

	if err := w.store.DownloadTo(ctx, key, input.Name()); err != nil {
		return "", err
	}
	if err := w.editor.RemoveIntervals(ctx, input.Name(), output.Name(), cuts); err != nil {
		return "", err
	}

	cleaned, err := os.Open(output.Name())
	if err != nil {
		return "", fmt.Errorf("open cleaned audio: %w", err)
	}
	defer cleaned.Close()

	if _, err := w.store.Upload(ctx, cleaned, outputKey); err != nil {
		return "", err
	}
	return outputKey, nil
}

func (w *Worker) publish(topic string, payload any, correlationID string) {
	if err := w.bus.Publish(broker.NewMessage(topic, payload, correlationID)); err != nil {
		slog.Error("publish failed", "topic", topic, "error", err)
	}
}
