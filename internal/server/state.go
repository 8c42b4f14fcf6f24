package server

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Valleeh/podcleaner/internal/models"
)

// Step is one entry of a request's processing history. Timestamps are epoch
// seconds with sub-second precision.
type Step struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Timestamp   float64 `json:"timestamp"`
	Error       string  `json:"error,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// RequestState tracks one submitted request through the pipeline.
type RequestState struct {
	RequestID   string              `json:"request_id"`
	Type        string              `json:"type"`
	URL         string              `json:"url"`
	Status      string              `json:"status"`
	CreatedAt   float64             `json:"created_at"`
	UpdatedAt   float64             `json:"updated_at"`
	Steps       []Step              `json:"steps"`
	PodcastInfo *models.PodcastInfo `json:"podcast_info,omitempty"`
}

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// addRequest registers a new pending request. Callers hold s.mu.
func (s *Server) addRequestLocked(requestID, requestType, url string) {
	now := epochNow()
	s.requests[requestID] = &RequestState{
		RequestID: requestID,
		Type:      requestType,
		URL:       url,
		Status:    "processing",
		CreatedAt: now,
		UpdatedAt: now,
		Steps: []Step{
			{Name: "submitted", Status: "completed", Timestamp: now},
		},
	}
}

// updateRequest appends a step and sets the request status. Unknown
// correlation IDs are logged and ignored; a worker may complete work that
// predates this server instance.
func (s *Server) updateRequest(requestID, status string, step *Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.requests[requestID]
	if !ok {
		slog.Warn("unknown request id", "request_id", requestID)
		return
	}
	state.Status = status
	state.UpdatedAt = epochNow()
	if step != nil {
		state.Steps = append(state.Steps, *step)
	}
	if status == "completed" || status == "failed" {
		delete(s.inFlightURLs, state.URL)
	}
}

// addFileMapping mints a file id for a cleaned blob and remembers which URL
// it answers, so later /process calls for the same URL short-circuit.
func (s *Server) addFileMapping(requestID, outputKey string) string {
	fileID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileMappings[fileID] = outputKey
	if state, ok := s.requests[requestID]; ok && state.URL != "" {
		s.urlToFile[state.URL] = outputKey
	}
	return fileID
}

func (s *Server) requestState(requestID string) (RequestState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.requests[requestID]
	if !ok {
		return RequestState{}, false
	}
	copied := *state
	copied.Steps = append([]Step(nil), state.Steps...)
	return copied, true
}

func (s *Server) filePath(fileID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.fileMappings[fileID]
	return key, ok
}

func (s *Server) processedFile(url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.urlToFile[url]
	return key, ok
}

func (s *Server) cachedFeed(rssURL string) (*models.PodcastInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.rssCache[rssURL]
	return info, ok
}

func (s *Server) cacheFeed(rssURL string, info *models.PodcastInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rssCache[rssURL] = info
}
