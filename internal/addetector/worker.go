package addetector

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/dedup"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

// ProcessedState is the state file name under the worker state directory.
const ProcessedState = "ad_detector_processed_files.json"

// Worker is the ad-detection stage.
type Worker struct {
	bus      broker.Bus
	store    storage.Store
	detector *Detector
	files    *dedup.Set
}

// NewWorker builds an ad-detection worker whose dedup state lives under
// stateDir.
func NewWorker(bus broker.Bus, store storage.Store, detector *Detector, stateDir string) (*Worker, error) {
	files, err := dedup.Load(filepath.Join(stateDir, ProcessedState))
	if err != nil {
		return nil, err
	}
	return &Worker{bus: bus, store: store, detector: detector, files: files}, nil
}

// Start subscribes the worker to its request topic.
func (w *Worker) Start() {
	w.bus.Subscribe(broker.TopicAdDetectionRequest, w.handleAdDetection)
	slog.Info("ad detector started")
}

// Stop persists the dedup state.
func (w *Worker) Stop() {
	if err := w.files.Persist(); err != nil {
		slog.Error("persist ad detector state failed", "error", err)
	}
	slog.Info("ad detector stopped")
}

func (w *Worker) handleAdDetection(msg broker.Message) {
	var req broker.AdDetectionRequest
	if err := msg.DecodeData(&req); err != nil || req.FilePath == "" || req.TranscriptPath == "" {
		w.publish(broker.TopicAdDetectionFailed, broker.Failure{Error: "missing file_path or transcript_path"}, msg.CorrelationID)
		return
	}

	log := slog.With("file_path", req.FilePath, "correlation_id", msg.CorrelationID)

	if w.files.Processed(req.FilePath) {
		log.Info("ads already detected")
		w.publish(broker.TopicAdDetectionComplete, broker.AdDetectionComplete{
			FilePath:         req.FilePath,
			TranscriptPath:   req.TranscriptPath,
			AlreadyProcessed: true,
		}, msg.CorrelationID)
		return
	}

	if !w.files.TryAcquire(req.FilePath) {
		log.Info("ad detection already in progress")
		w.publish(broker.TopicAdDetectionInProgress, broker.AdDetectionInProgress{
			FilePath:       req.FilePath,
			TranscriptPath: req.TranscriptPath,
		}, msg.CorrelationID)
		return
	}

	if err := w.detect(context.Background(), req.TranscriptPath); err != nil {
		w.files.Release(req.FilePath)
		log.Error("ad detection failed", "error", err)
		w.publish(broker.TopicAdDetectionFailed, broker.Failure{
			Error:          err.Error(),
			FilePath:       req.FilePath,
			TranscriptPath: req.TranscriptPath,
		}, msg.CorrelationID)
		return
	}

	if err := w.files.MarkProcessed(req.FilePath); err != nil {
		w.files.Release(req.FilePath)
		log.Error("persist ad detector state failed", "error", err)
		w.publish(broker.TopicAdDetectionFailed, broker.Failure{
			Error:          err.Error(),
			FilePath:       req.FilePath,
			TranscriptPath: req.TranscriptPath,
		}, msg.CorrelationID)
		return
	}

	log.Info("ad detection complete", "transcript_path", req.TranscriptPath)
	w.publish(broker.TopicAdDetectionComplete, broker.AdDetectionComplete{
		FilePath:       req.FilePath,
		TranscriptPath: req.TranscriptPath,
	}, msg.CorrelationID)
}

// detect loads the transcript, classifies it and writes the marked version
// back to the same key.
func (w *Worker) detect(ctx context.Context, transcriptKey string) error {
	data, err := w.store.Download(ctx, transcriptKey)
	if err != nil {
		return err
	}

	var transcript models.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return err
	}

	marked, _ := w.detector.DetectAds(ctx, &transcript)

	out, err := json.Marshal(marked)
	if err != nil {
		return err
	}
	if _, err := w.store.Upload(ctx, bytes.NewReader(out), transcriptKey); err != nil {
		return err
	}
	return nil
}

func (w *Worker) publish(topic string, payload any, correlationID string) {
	if err := w.bus.Publish(broker.NewMessage(topic, payload, correlationID)); err != nil {
		slog.Error("publish failed", "topic", topic, "error", err)
	}
}
