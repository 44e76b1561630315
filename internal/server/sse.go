package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/examprep/examprep-cli/internal/stream"
)

// sseWriter writes frames and flushes after each one.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) data(v any) error {
	if err := stream.WriteData(s.w, v); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) delta(text string) error {
	if err := stream.WriteDelta(s.w, text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) done() error {
	if err := stream.WriteDone(s.w); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// copy relays an already framed SSE stream.
func (s *sseWriter) copy(r io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.w.Write(buf[:n]); werr != nil {
				return werr
			}
			s.f.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
