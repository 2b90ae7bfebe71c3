package tuner

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/resolver"
)

type fakeResolver struct {
	probeErr error
	openErr  error
	body     io.ReadCloser
}

func (f *fakeResolver) Probe(ctx context.Context, u string) (string, error) {
	if f.probeErr != nil {
		return "", f.probeErr
	}
	return u, nil
}

func (f *fakeResolver) Open(ctx context.Context, u string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.body, nil
}

func testGateway(f *fakeResolver) *Gateway {
	return &Gateway{Resolver: f, TunerCount: 2, ChunkBytes: 4096, log: zerolog.Nop()}
}

func streamRequest(url string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/stream?url="+url, nil)
}

func TestGateway_missingURL(t *testing.T) {
	g := testGateway(&fakeResolver{})
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestGateway_rejectsNonHTTPSchemes(t *testing.T) {
	g := testGateway(&fakeResolver{})
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, streamRequest("file%3A%2F%2F%2Fetc%2Fpasswd"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestGateway_noStreams(t *testing.T) {
	g := testGateway(&fakeResolver{
		probeErr: &resolver.ResolutionError{Reason: "no playable streams", NoStreams: true},
	})
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, streamRequest("http%3A%2F%2Fsrc%2Foffline"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestGateway_resolverFailure(t *testing.T) {
	g := testGateway(&fakeResolver{
		probeErr: &resolver.ResolutionError{Reason: "stream info probe failed", Err: errors.New("exec")},
	})
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, streamRequest("http%3A%2F%2Fsrc%2Fbad"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestGateway_relaysBody(t *testing.T) {
	g := testGateway(&fakeResolver{body: io.NopCloser(strings.NewReader("tsdata"))})
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, streamRequest("http%3A%2F%2Fsrc%2Flive"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("content type: %q", ct)
	}
	if rec.Body.String() != "tsdata" {
		t.Errorf("body: %q", rec.Body.String())
	}
	if g.ActiveStreams() != 0 {
		t.Errorf("slot not released: %d", g.ActiveStreams())
	}
}

// With one tuner configured, a second concurrent tune is rejected with the
// 805 marker while the first keeps running, and the slot frees on finish.
func TestGateway_tunerExhaustion(t *testing.T) {
	pr, pw := io.Pipe()
	g := testGateway(&fakeResolver{body: pr})
	g.TunerCount = 1

	first := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, streamRequest("http%3A%2F%2Fsrc%2Fa"))
		first <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for g.ActiveStreams() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first relay never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, streamRequest("http%3A%2F%2Fsrc%2Fb"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("second tune: %d", rec.Code)
	}
	if rec.Header().Get("X-HDHomeRun-Error") != "805" {
		t.Errorf("X-HDHomeRun-Error: %q", rec.Header().Get("X-HDHomeRun-Error"))
	}

	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	pw.Close()
	got := <-first
	if got.Code != http.StatusOK || got.Body.String() != "x" {
		t.Errorf("first relay: %d %q", got.Code, got.Body.String())
	}
	if g.ActiveStreams() != 0 {
		t.Errorf("slot not released: %d", g.ActiveStreams())
	}
}

// Two relays over real connections: closing one client must not disturb the
// other.
func TestGateway_concurrentTunesIndependent(t *testing.T) {
	prA, pwA := io.Pipe()
	prB, pwB := io.Pipe()
	bodies := map[string]io.ReadCloser{"http://src/a": prA, "http://src/b": prB}
	g := &Gateway{Resolver: routeResolver(bodies), TunerCount: 2, ChunkBytes: 4096, log: zerolog.Nop()}

	srv := httptest.NewServer(http.HandlerFunc(g.ServeHTTP))
	defer srv.Close()

	respA, err := http.Get(srv.URL + "/stream?url=http%3A%2F%2Fsrc%2Fa")
	if err != nil {
		t.Fatal(err)
	}
	respB, err := http.Get(srv.URL + "/stream?url=http%3A%2F%2Fsrc%2Fb")
	if err != nil {
		t.Fatal(err)
	}
	defer respB.Body.Close()

	// Drop client A mid-stream.
	respA.Body.Close()

	// B still receives data afterwards.
	if _, err := pwB.Write([]byte("still-here")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	if _, err := io.ReadFull(respB.Body, buf); err != nil {
		t.Fatalf("read B after closing A: %v", err)
	}
	if string(buf) != "still-here" {
		t.Errorf("B body: %q", buf)
	}

	pwA.Close()
	pwB.Close()
}

type routeResolver map[string]io.ReadCloser

func (m routeResolver) Probe(ctx context.Context, u string) (string, error) { return u, nil }

func (m routeResolver) Open(ctx context.Context, u string) (io.ReadCloser, error) {
	rc, ok := m[u]
	if !ok {
		return nil, &resolver.ResolutionError{Reason: "no playable streams", NoStreams: true}
	}
	return rc, nil
}
