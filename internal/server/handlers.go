package server

import (
	"log/slog"

	"github.com/Valleeh/podcleaner/internal/broker"
)

// setupSubscriptions wires the request state machine to the pipeline. Each
// completion handler records the step and dispatches the next stage under
// the same correlation id; failure handlers record the step and stop.
func (s *Server) setupSubscriptions() {
	s.bus.Subscribe(broker.TopicDownloadComplete, s.onDownloadComplete)
	s.bus.Subscribe(broker.TopicDownloadFailed, s.onFailed("download"))

	s.bus.Subscribe(broker.TopicTranscribeComplete, s.onTranscribeComplete)
	s.bus.Subscribe(broker.TopicTranscribeFailed, s.onFailed("transcription"))

	s.bus.Subscribe(broker.TopicAdDetectionComplete, s.onAdDetectionComplete)
	s.bus.Subscribe(broker.TopicAdDetectionFailed, s.onFailed("ad_detection"))
	s.bus.Subscribe(broker.TopicAdDetectionInProgress, s.onAdDetectionInProgress)

	s.bus.Subscribe(broker.TopicAudioProcessingComplete, s.onAudioProcessingComplete)
	s.bus.Subscribe(broker.TopicAudioProcessingFailed, s.onFailed("audio_processing"))

	s.bus.Subscribe(broker.TopicRSSDownloadComplete, s.onRSSDownloadComplete)
	s.bus.Subscribe(broker.TopicRSSDownloadFailed, s.onFailed("rss_download"))

	s.bus.Subscribe(broker.TopicStatusUpdate, s.onStatusUpdate)
}

func (s *Server) onDownloadComplete(msg broker.Message) {
	var payload broker.DownloadComplete
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" || payload.FilePath == "" {
		slog.Warn("malformed completion", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	s.updateRequest(msg.CorrelationID, "processing", &Step{
		Name:      "download",
		Status:    "completed",
		Timestamp: epochNow(),
	})
	s.publish(broker.TopicTranscribeRequest, broker.TranscribeRequest{
		FilePath: payload.FilePath,
	}, msg.CorrelationID)
}

func (s *Server) onTranscribeComplete(msg broker.Message) {
	var payload broker.TranscribeComplete
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" ||
		payload.FilePath == "" || payload.TranscriptPath == "" {
		slog.Warn("malformed completion", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	s.updateRequest(msg.CorrelationID, "processing", &Step{
		Name:      "transcription",
		Status:    "completed",
		Timestamp: epochNow(),
	})
	s.publish(broker.TopicAdDetectionRequest, broker.AdDetectionRequest{
		FilePath:       payload.FilePath,
		TranscriptPath: payload.TranscriptPath,
	}, msg.CorrelationID)
}

func (s *Server) onAdDetectionComplete(msg broker.Message) {
	var payload broker.AdDetectionComplete
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" ||
		payload.FilePath == "" || payload.TranscriptPath == "" {
		slog.Warn("malformed completion", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	s.updateRequest(msg.CorrelationID, "processing", &Step{
		Name:      "ad_detection",
		Status:    "completed",
		Timestamp: epochNow(),
	})
	s.publish(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       payload.FilePath,
		TranscriptPath: payload.TranscriptPath,
	}, msg.CorrelationID)
}

func (s *Server) onAdDetectionInProgress(msg broker.Message) {
	// Another request already triggered classification for this file; its
	// completion message will advance this request too.
	slog.Info("ad detection in progress elsewhere", "correlation_id", msg.CorrelationID)
}

func (s *Server) onAudioProcessingComplete(msg broker.Message) {
	var payload broker.AudioProcessingComplete
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" || payload.OutputPath == "" {
		slog.Warn("malformed completion", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	fileID := s.addFileMapping(msg.CorrelationID, payload.OutputPath)
	s.updateRequest(msg.CorrelationID, "completed", &Step{
		Name:        "audio_processing",
		Status:      "completed",
		Timestamp:   epochNow(),
		DownloadURL: s.downloadURL(fileID),
	})
}

func (s *Server) onRSSDownloadComplete(msg broker.Message) {
	var payload broker.RSSDownloadComplete
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" || payload.RSSURL == "" {
		slog.Warn("malformed completion", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	info := payload.PodcastInfo
	s.cacheFeed(payload.RSSURL, &info)

	s.mu.Lock()
	if state, ok := s.requests[msg.CorrelationID]; ok {
		state.PodcastInfo = &info
	}
	s.mu.Unlock()

	s.updateRequest(msg.CorrelationID, "completed", &Step{
		Name:      "rss_download",
		Status:    "completed",
		Timestamp: epochNow(),
	})
}

// onFailed marks the request failed with the stage's error; no next stage is
// dispatched.
func (s *Server) onFailed(stage string) broker.Handler {
	return func(msg broker.Message) {
		var payload broker.Failure
		if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" {
			slog.Warn("malformed failure", "topic", msg.Topic, "message_id", msg.MessageID)
			return
		}

		s.updateRequest(msg.CorrelationID, "failed", &Step{
			Name:      stage,
			Status:    "failed",
			Timestamp: epochNow(),
			Error:     payload.Error,
		})
	}
}

func (s *Server) onStatusUpdate(msg broker.Message) {
	var payload broker.StatusUpdate
	if err := msg.DecodeData(&payload); err != nil || msg.CorrelationID == "" || payload.Status == "" {
		slog.Warn("malformed status update", "topic", msg.Topic, "message_id", msg.MessageID)
		return
	}

	var step *Step
	if payload.Step != nil {
		step = &Step{
			Name:        payload.Step.Name,
			Status:      payload.Step.Status,
			Timestamp:   payload.Step.Timestamp,
			Error:       payload.Step.Error,
			DownloadURL: payload.Step.DownloadURL,
		}
	}
	s.updateRequest(msg.CorrelationID, payload.Status, step)
}
