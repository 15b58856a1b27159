// Package debuglog records outbound API traffic for diagnostics. It is a side
// channel: nothing it does changes the outcome of a request.
package debuglog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// maxPayload bounds how much of a structured payload is written per record.
const maxPayload = 512

// Sink receives one record before each call and one after it.
type Sink interface {
	Request(method, url string, body any)
	Response(status int, url string, payload any, err error)
}

type slogSink struct {
	logger *slog.Logger
}

// New returns a Sink that writes debug-level records to logger.
func New(logger *slog.Logger) Sink {
	return &slogSink{logger: logger}
}

// NewText returns a Sink writing human-readable records to w.
func NewText(w io.Writer) Sink {
	return New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func (s *slogSink) Request(method, url string, body any) {
	attrs := []any{"method", method, "url", url}
	if body != nil {
		attrs = append(attrs, "body", Summarize(body))
	}
	s.logger.Debug("api request", attrs...)
}

func (s *slogSink) Response(status int, url string, payload any, err error) {
	if err != nil {
		s.logger.Debug("api error", "status", status, "url", url, "error", err.Error())
		return
	}
	s.logger.Debug("api response", "status", status, "url", url, "payload", Summarize(payload))
}

// Summarize renders a payload for a log line. Byte slices are reported by
// length only, everything else as JSON truncated to maxPayload bytes.
func Summarize(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("binary (%d bytes)", len(p))
	case string:
		return truncate(p)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return truncate(fmt.Sprintf("%v", payload))
	}
	return truncate(string(data))
}

func truncate(s string) string {
	if len(s) <= maxPayload {
		return s
	}
	cut := maxPayload
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

type nopSink struct{}

// Nop returns a Sink that discards everything.
func Nop() Sink { return nopSink{} }

func (nopSink) Request(string, string, any) {}
func (nopSink) Response(int, string, any, error) {}
