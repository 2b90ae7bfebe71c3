package tuner

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func TestCompressBrotli(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/discover.json", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("Content-Encoding: %q", rec.Header().Get("Content-Encoding"))
	}
	body, err := io.ReadAll(brotli.NewReader(rec.Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(body), `"DeviceID"`) {
		t.Errorf("decoded body: %s", body)
	}
}

func TestCompressBrotli_skippedWithoutAcceptHeader(t *testing.T) {
	s, _ := testServer(t)
	rec := get(t, s.Routes(), "/discover.json")
	if rec.Header().Get("Content-Encoding") != "" {
		t.Errorf("unexpected Content-Encoding: %q", rec.Header().Get("Content-Encoding"))
	}
}

// The /stream route sits outside the compress group: a TS relay must reach
// the client unencoded no matter what it advertised.
func TestStreamNotCompressed(t *testing.T) {
	s, _ := testServer(t)
	s.gateway.Resolver = &fakeResolver{body: io.NopCloser(strings.NewReader("ts"))}
	req := httptest.NewRequest(http.MethodGet, "/stream?url=http%3A%2F%2Fsrc%2Fa", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") == "br" {
		t.Error("stream response must not be brotli-encoded")
	}
	if rec.Body.String() != "ts" {
		t.Errorf("body: %q", rec.Body.String())
	}
}
