package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 3 * time.Second

// Server exposes the monitor endpoints: /stream (MP3) and, when the sample
// rate allows Opus, /offer (WebRTC).
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the monitor routes for broadcaster b.
func NewServer(addr string, b *Broadcaster, sampleRate int, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/stream", NewHTTPHandler(b, sampleRate, log))
	if h, err := NewWebRTCHandler(b, sampleRate, log); err != nil {
		log.Warn("webrtc monitor disabled", "err", err)
	} else {
		mux.Handle("/offer", h)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("monitor listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
