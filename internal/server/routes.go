package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/downloader"
)

const processingBody = "This podcast is being processed. Please try again later."

func (s *Server) setupRoutes() {
	s.router.GET("/process", s.handleProcess)
	s.router.GET("/rss", s.handleRSS)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/download/:id", s.handleDownload)
}

// handleProcess starts (or short-circuits) the cleaning pipeline for one
// podcast URL. Podcast clients treat the 202 body as a stub episode and
// retry later.
func (s *Server) handleProcess(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url parameter"})
		return
	}

	if key, ok := s.processedFile(url); ok {
		exists, err := s.store.Exists(c.Request.Context(), key)
		if err == nil && exists {
			s.serveBlob(c, key, path.Base(url))
			return
		}
	}

	s.mu.Lock()
	if requestID, inFlight := s.inFlightURLs[url]; inFlight {
		s.mu.Unlock()
		// One pipeline per URL; duplicate submissions ride along.
		slog.Info("submission coalesced", "url", url, "request_id", requestID)
		c.Data(http.StatusAccepted, "audio/mpeg", []byte(processingBody))
		return
	}
	requestID := uuid.NewString()
	s.addRequestLocked(requestID, "process", url)
	s.inFlightURLs[url] = requestID
	s.mu.Unlock()

	if err := s.publish(broker.TopicDownloadRequest, broker.DownloadRequest{URL: url}, requestID); err != nil {
		// The pipeline never started; forget the request so the URL is
		// not wedged behind a correlation id nothing will ever resolve.
		s.mu.Lock()
		delete(s.inFlightURLs, url)
		delete(s.requests, requestID)
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start processing"})
		return
	}
	slog.Info("processing request accepted", "url", url, "request_id", requestID)
	c.Data(http.StatusAccepted, "audio/mpeg", []byte(processingBody))
}

// handleRSS returns the feed with every episode URL rewritten to /process.
// A cache miss is served synchronously; the cache fills either here or from
// RSS_DOWNLOAD_COMPLETE messages.
func (s *Server) handleRSS(c *gin.Context) {
	rssURL := c.Query("url")
	if rssURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url parameter"})
		return
	}

	if info, ok := s.cachedFeed(rssURL); ok {
		s.writeRSS(c, info)
		return
	}

	info, err := s.fetchFeed(c.Request.Context(), rssURL)
	if err != nil {
		slog.Error("rss processing failed", "url", rssURL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process rss feed"})
		return
	}

	scheme := "http"
	if s.cfg.UseHTTPS {
		scheme = "https"
	}
	baseURL := scheme + "://" + c.Request.Host
	downloader.RewriteEpisodeURLs(info, baseURL)

	s.cacheFeed(rssURL, info)
	s.writeRSS(c, info)
}

func (s *Server) handleStatus(c *gin.Context) {
	requestID := c.Query("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}

	state, ok := s.requestState(requestID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleDownload(c *gin.Context) {
	fileID := c.Param("id")
	key, ok := s.filePath(fileID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	s.serveBlob(c, key, "podcast_"+fileID+".mp3")
}

// serveBlob streams a stored object as an attachment. Write errors mean the
// client went away; that is routine for podcast apps polling a long
// pipeline, so it is logged and swallowed.
func (s *Server) serveBlob(c *gin.Context, key, filename string) {
	data, err := s.store.Download(context.Background(), key)
	if err != nil {
		slog.Error("file serving failed", "key", key, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	c.Header("Content-Type", contentTypeForKey(key))
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)
	if _, err := c.Writer.Write(data); err != nil {
		slog.Info("client disconnected during download", "key", key)
		return
	}
	slog.Info("file served", "key", key, "size", len(data))
}

// contentTypeForKey maps a blob key to its serving content type. Source keys
// are md5 digests without an extension; those are podcast audio too.
func contentTypeForKey(key string) string {
	switch path.Ext(key) {
	case ".mp3", "":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
