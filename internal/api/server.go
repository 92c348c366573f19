// Package api exposes the cached stream over HTTP: ranged reads, cache
// diagnostics, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lakefront/streamcache/internal/cache"
	"github.com/lakefront/streamcache/internal/config"
)

const streamChunkSize = 64 << 10

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	cache      *cache.CachedSource

	// size of the upstream stream if known, -1 otherwise.
	size int64
}

// NewServer wires the routes around an existing cache. size is the
// upstream length when known, -1 otherwise.
func NewServer(cfg *config.Config, logger *zap.Logger, cs *cache.CachedSource, size int64) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
		router: mux.NewRouter(),
		cache:  cs,
		size:   size,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: a throttled upstream makes streams
		// legitimately slow.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/v1/stream", s.handleStream).Methods("GET")
	s.router.HandleFunc("/v1/stat", s.handleStat).Methods("GET")
	s.router.HandleFunc("/v1/resume", s.handleResume).Methods("POST")
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving; it blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStat(w http.ResponseWriter, _ *http.Request) {
	remaining, status := s.cache.ApproxDataRemaining()

	statusStr := "ok"
	switch {
	case errors.Is(status, io.EOF):
		statusStr = "eos"
	case status != nil:
		statusStr = "error"
	}

	resp := map[string]interface{}{
		"cached_bytes":    s.cache.CachedSize(),
		"remaining_bytes": remaining,
		"status":          statusStr,
	}
	if status != nil && statusStr == "error" {
		resp["error"] = status.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.cache.ResumeFetchingIfNecessary()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")

	if start > 0 || end >= 0 {
		last := end
		if last < 0 && s.size > 0 {
			last = s.size - 1
		}
		// An open-ended range over an unknown-size stream has no last
		// byte position to report, and the header grammar requires a
		// numeric one; the 206 then carries no Content-Range.
		if last >= start {
			total := "*"
			if s.size >= 0 {
				total = strconv.FormatInt(s.size, 10)
			}
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%s", start, last, total))
		}
		w.WriteHeader(http.StatusPartialContent)
	}

	buf := make([]byte, streamChunkSize)
	off := start
	for {
		chunk := buf
		if end >= 0 {
			left := end - off + 1
			if left <= 0 {
				return
			}
			if left < int64(len(chunk)) {
				chunk = chunk[:left]
			}
		}

		n, err := s.cache.ReadAt(chunk, off)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				s.logger.Debug("client went away", zap.Error(werr))
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			off += int64(n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("stream read failed",
					zap.Int64("offset", off), zap.Error(err))
			}
			return
		}
	}
}

// parseRange understands single "bytes=start-end" and "bytes=start-"
// ranges. end == -1 means open-ended.
func parseRange(h string) (start, end int64, err error) {
	if h == "" {
		return 0, -1, nil
	}
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("unsupported range %q", h)
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", h)
	}

	start, err = strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range %q", h)
	}

	end = -1
	if last = strings.TrimSpace(last); last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("malformed range %q", h)
		}
	}
	return start, end, nil
}
