// Package apitest provides an in-process fake of the lab API for tests.
package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Request is one request received by the fake server.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Auth returns the Authorization header value.
func (r Request) Auth() string {
	return r.Header.Get("Authorization")
}

// JSONBody decodes the request body into a generic map.
func (r Request) JSONBody() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(r.Body, &m)
	return m
}

// Server is a chi router behind an httptest server that records every
// request it receives.
type Server struct {
	*httptest.Server
	Router chi.Router

	mu       sync.Mutex
	requests []Request
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{}
	r := chi.NewRouter()
	r.Use(s.record)
	s.Router = r
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// V4 returns the base address of the fake v4 surface.
func (s *Server) V4() string { return s.URL + "/api/v4" }

// V5 returns the base address of the fake v5 surface.
func (s *Server) V5() string { return s.URL + "/api/v5" }

// Handle registers h for method and a path relative to the server root,
// e.g. "/api/v4/machine/active".
func (s *Server) Handle(method, pattern string, h http.HandlerFunc) {
	s.Router.Method(method, pattern, h)
}

// Requests returns a copy of everything received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests hit path.
func (s *Server) Count(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request. It panics when there is none.
func (s *Server) Last() Request {
	reqs := s.Requests()
	return reqs[len(reqs)-1]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// JSON responds with status and body encoded as application/json.
func JSON(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Raw responds with status, a content type and the exact bytes given.
func Raw(status int, contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}

// Hang blocks until the client gives up on the request.
func Hang() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}
}

// Sequence serves handlers in order, repeating the last one once exhausted.
func Sequence(handlers ...http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	next := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		h := handlers[next]
		if next < len(handlers)-1 {
			next++
		}
		mu.Unlock()
		h(w, r)
	}
}
