package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/duorec/internal/audio"
)

// HTTPHandler serves a chunked MP3 stream of the mix.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	sampleRate  int
	log         *slog.Logger
}

// NewHTTPHandler creates an HTTP stream handler for mono PCM at sampleRate.
func NewHTTPHandler(b *Broadcaster, sampleRate int, log *slog.Logger) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, sampleRate: sampleRate, log: log}
}

func (h *HTTPHandler) ffmpegArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(h.sampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "128k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", h.ffmpegArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("monitor stdin pipe", "err", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("monitor stdout pipe", "err", err)
		return
	}

	if err := cmd.Start(); err != nil {
		h.log.Error("monitor ffmpeg start", "err", err)
		return
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("http listener connected", "remote", r.RemoteAddr, "listeners", h.broadcaster.ListenerCount())
	defer h.log.Info("http listener disconnected", "remote", r.RemoteAddr)

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.done:
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn("monitor ffmpeg read", "err", err)
			}
			break
		}
	}

	cmd.Wait()
}
