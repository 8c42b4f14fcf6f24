package broker

import "github.com/Valleeh/podcleaner/internal/models"

// Per-topic payload shapes. Every successful payload carries the identifiers
// the next stage needs; every failure payload carries an error string.

// DownloadRequest asks the downloader to fetch a podcast URL.
type DownloadRequest struct {
	URL string `json:"url"`
}

// DownloadComplete reports a fetched (or previously fetched) audio blob.
type DownloadComplete struct {
	URL              string `json:"url"`
	FilePath         string `json:"file_path"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// TranscribeRequest asks the transcriber to process an audio blob.
type TranscribeRequest struct {
	FilePath string `json:"file_path"`
}

// TranscribeComplete reports a written transcript.
type TranscribeComplete struct {
	FilePath         string `json:"file_path"`
	TranscriptPath   string `json:"transcript_path"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// AdDetectionRequest asks the ad detector to classify a transcript.
type AdDetectionRequest struct {
	FilePath       string `json:"file_path"`
	TranscriptPath string `json:"transcript_path"`
}

// AdDetectionComplete reports an ad-marked transcript written back in place.
type AdDetectionComplete struct {
	FilePath         string `json:"file_path"`
	TranscriptPath   string `json:"transcript_path"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// AdDetectionInProgress tells duplicate requesters that classification for
// the transcript is already running.
type AdDetectionInProgress struct {
	FilePath       string `json:"file_path"`
	TranscriptPath string `json:"transcript_path"`
}

// AudioProcessingRequest asks the audio processor to cut the marked ads.
type AudioProcessingRequest struct {
	FilePath       string `json:"file_path"`
	TranscriptPath string `json:"transcript_path"`
}

// AudioProcessingComplete reports the cleaned audio blob. OutputPath equals
// InputPath when no ads were cut.
type AudioProcessingComplete struct {
	InputPath        string `json:"input_path"`
	OutputPath       string `json:"output_path"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// RSSDownloadRequest asks the downloader to parse a podcast feed. When
// BaseURL is set, episode enclosure URLs are rewritten to point back at the
// processing server.
type RSSDownloadRequest struct {
	RSSURL  string `json:"rss_url"`
	BaseURL string `json:"base_url,omitempty"`
}

// RSSDownloadComplete carries the parsed (and possibly rewritten) feed.
type RSSDownloadComplete struct {
	RSSURL      string             `json:"rss_url"`
	PodcastInfo models.PodcastInfo `json:"podcast_info"`
}

// Failure is the common shape of every *_FAILED payload.
type Failure struct {
	Error          string `json:"error"`
	URL            string `json:"url,omitempty"`
	RSSURL         string `json:"rss_url,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// StatusStep is one entry of a request's step history.
type StatusStep struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Timestamp   float64 `json:"timestamp"`
	Error       string  `json:"error,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// StatusUpdate pushes an externally produced step onto a request's history.
type StatusUpdate struct {
	Status string      `json:"status"`
	Step   *StatusStep `json:"step,omitempty"`
}
