// Package server is the HTTP front-end: it accepts processing requests,
// tracks them through the pipeline via broker subscriptions and serves the
// cleaned audio.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/downloader"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

// feedFetcher fetches and parses a podcast feed.
type feedFetcher func(ctx context.Context, feedURL string) (*models.PodcastInfo, error)

// Server wraps the HTTP server and the request-tracking state machine.
type Server struct {
	cfg        config.WebServer
	bus        broker.Bus
	store      storage.Store
	httpServer *http.Server
	router     *gin.Engine
	fetchFeed  feedFetcher

	mu           sync.Mutex
	requests     map[string]*RequestState
	fileMappings map[string]string
	urlToFile    map[string]string
	inFlightURLs map[string]string
	rssCache     map[string]*models.PodcastInfo
}

// New creates the front-end and registers its broker subscriptions.
func New(cfg config.WebServer, bus broker.Bus, store storage.Store) *Server {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	feedClient := &http.Client{Timeout: 2 * time.Minute}
	s := &Server{
		cfg:    cfg,
		bus:    bus,
		store:  store,
		router: router,
		fetchFeed: func(ctx context.Context, feedURL string) (*models.PodcastInfo, error) {
			return downloader.FetchPodcastInfo(ctx, feedClient, feedURL)
		},
		requests:     make(map[string]*RequestState),
		fileMappings: make(map[string]string),
		urlToFile:    make(map[string]string),
		inFlightURLs: make(map[string]string),
		rssCache:     make(map[string]*models.PodcastInfo),
	}

	s.setupRoutes()
	s.setupSubscriptions()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("web server initialized", "host", cfg.Host, "port", cfg.Port)
	return s
}

// Start serves HTTP until Shutdown.
func (s *Server) Start() error {
	slog.Info("web server started", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("web server stopping")
	return s.httpServer.Shutdown(ctx)
}

// downloadURL builds the externally reachable URL for a minted file id.
func (s *Server) downloadURL(fileID string) string {
	host := s.cfg.Host
	if host == "0.0.0.0" {
		host = "localhost"
	}
	scheme := "http"
	if s.cfg.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/download/%s", scheme, host, s.cfg.Port, fileID)
}

func (s *Server) publish(topic string, payload any, correlationID string) error {
	err := s.bus.Publish(broker.NewMessage(topic, payload, correlationID))
	if err != nil {
		slog.Error("publish failed", "topic", topic, "error", err)
	}
	return err
}
