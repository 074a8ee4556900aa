package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"gwi.com/chat-history/internal/store"
)

// httpStreamWriter sends a streamed reply as chunked plain text. Nothing is
// written to the response until Begin.
type httpStreamWriter struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	begun bool
}

func newHTTPStreamWriter(w http.ResponseWriter) *httpStreamWriter {
	return &httpStreamWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *httpStreamWriter) Begin(userMsg store.Message) error {
	s.begun = true
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-User-Message-Id", userMsg.ID)

	// The server write timeout is sized for buffered replies.
	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *httpStreamWriter) Write(frag string) error {
	if _, err := io.WriteString(s.w, frag); err != nil {
		return err
	}
	return s.flush()
}

func (s *httpStreamWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
