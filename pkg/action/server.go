// Package action exposes the cat processor over HTTP using the action-runtime
// protocol (POST /init, POST /run) plus a plain JSON endpoint.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
)

const defaultMaxBodyBytes = 32 << 20

// ServerConfig holds configuration for the action server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxBodyBytes bounds request bodies; larger ones get 413.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Server serves the cat processor over HTTP.
type Server struct {
	processor    *catfeed.Processor
	logger       zerolog.Logger
	http         *http.Server
	maxBodyBytes int64
}

// NewServer creates a Server. It does not start listening.
func NewServer(cfg ServerConfig, processor *catfeed.Processor, logger zerolog.Logger) (*Server, error) {
	if processor == nil {
		return nil, errors.New("cat processor cannot be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		processor:    processor,
		logger:       logger.With().Str("component", "ActionServer").Logger(),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/init", s.handleInit)
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/process", s.handleProcess)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Action server listening.")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down action server...")
	return s.http.Shutdown(ctx)
}

// runRequest is the body the action runtime posts to /run.
type runRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	_, _ = io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// The runtime reports action failures, including bad input, as 502.
		writeError(w, http.StatusBadGateway, catfeed.InvalidArgumentMessage)
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage(`{}`)
	}
	s.process(w, req.Value, http.StatusBadGateway)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.process(w, body, http.StatusBadRequest)
}

// readBody reads the whole request body, answering 413 when it is larger
// than the configured limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return nil, false
	}
	writeError(w, http.StatusBadRequest, "failed to read request body")
	return nil, false
}

func (s *Server) process(w http.ResponseWriter, raw []byte, invalidStatus int) {
	params, err := catfeed.DecodeParams(raw)
	if err == nil {
		var result *catfeed.Result
		result, err = s.processor.Process(params)
		if err == nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	if errors.Is(err, catfeed.ErrInvalidArgument) {
		writeError(w, invalidStatus, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("Batch processing failed.")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
