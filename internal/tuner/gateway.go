package tuner

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/metrics"
	"github.com/hometuner/hometuner/internal/resolver"
	"github.com/hometuner/hometuner/internal/safeurl"
)

// StreamResolver is the narrow view of the resolver the gateway needs:
// verify a source has a playable stream, then open the relay.
type StreamResolver interface {
	Probe(ctx context.Context, streamURL string) (string, error)
	Open(ctx context.Context, streamURL string) (io.ReadCloser, error)
}

// liveResolver adapts *resolver.Resolver to StreamResolver.
type liveResolver struct {
	r *resolver.Resolver
}

func (l liveResolver) Probe(ctx context.Context, streamURL string) (string, error) {
	return l.r.Probe(ctx, streamURL)
}

func (l liveResolver) Open(ctx context.Context, streamURL string) (io.ReadCloser, error) {
	return l.r.Open(ctx, streamURL)
}

// Gateway relays a source URL to the client as MPEG-TS: /stream?url=SOURCE.
// Each request carries its own resolver session; the only shared state is
// the tuner-slot counter.
type Gateway struct {
	Resolver   StreamResolver
	TunerCount int
	ChunkBytes int
	log        zerolog.Logger

	mu    sync.Mutex
	inUse int
}

// ActiveStreams reports how many relays are running.
func (g *Gateway) ActiveStreams() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

func (g *Gateway) acquire() (int, bool) {
	limit := g.TunerCount
	if limit <= 0 {
		limit = 2
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inUse >= limit {
		return limit, false
	}
	g.inUse++
	return limit, true
}

func (g *Gateway) release() {
	g.mu.Lock()
	g.inUse--
	g.mu.Unlock()
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamURL := r.URL.Query().Get("url")
	if streamURL == "" {
		metrics.IncStreamRequest("bad_url")
		writeJSONError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	// Reject non-http(s) sources before anything reaches a subprocess
	// (file://, rtsp:// and friends are SSRF bait).
	if !safeurl.IsHTTPOrHTTPS(streamURL) {
		metrics.IncStreamRequest("bad_url")
		writeJSONError(w, http.StatusBadRequest, "url must be http or https")
		return
	}

	limit, ok := g.acquire()
	if !ok {
		metrics.IncStreamRequest("busy")
		g.log.Warn().Int("limit", limit).Str("remote", r.RemoteAddr).Msg("all tuners in use")
		w.Header().Set("X-HDHomeRun-Error", "805") // All Tuners In Use
		writeJSONError(w, http.StatusServiceUnavailable, "all tuners in use")
		return
	}
	defer g.release()

	start := time.Now()
	direct, err := g.Resolver.Probe(r.Context(), streamURL)
	if err != nil {
		metrics.ObserveResolve("failure", time.Since(start))
		g.writeResolveError(w, streamURL, err)
		return
	}
	metrics.ObserveResolve("success", time.Since(start))

	session, err := g.Resolver.Open(r.Context(), direct)
	if err != nil {
		metrics.IncStreamRequest("resolver_error")
		g.writeResolveError(w, streamURL, err)
		return
	}
	defer session.Close()

	metrics.IncStreamRequest("ok")
	done := metrics.StreamOpened()
	defer done()

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)
	g.relay(w, r, session, streamURL, start)
}

// relay copies the session to the client in bounded chunks, flushing each
// one so playback starts immediately. It returns when the source ends or
// the client goes away; either way the deferred session close reaps the
// resolver process.
func (g *Gateway) relay(w http.ResponseWriter, r *http.Request, src io.Reader, streamURL string, start time.Time) {
	flusher, _ := w.(http.Flusher)
	chunk := g.ChunkBytes
	if chunk <= 0 {
		chunk = 4096
	}
	buf := make([]byte, chunk)
	var sent int64
	logURL := safeurl.Redact(streamURL)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				if isClientDisconnect(writeErr) || r.Context().Err() != nil {
					g.log.Info().Str("url", logURL).Int64("bytes", sent).
						Dur("dur", time.Since(start)).Msg("client disconnected")
				} else {
					g.log.Warn().Err(writeErr).Str("url", logURL).Msg("relay write failed")
				}
				return
			}
			sent += int64(n)
			metrics.AddStreamBytes(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF && r.Context().Err() == nil {
				g.log.Warn().Err(readErr).Str("url", logURL).Msg("relay read failed")
			} else {
				g.log.Info().Str("url", logURL).Int64("bytes", sent).
					Dur("dur", time.Since(start)).Msg("stream ended")
			}
			return
		}
	}
}

func (g *Gateway) writeResolveError(w http.ResponseWriter, streamURL string, err error) {
	var resErr *resolver.ResolutionError
	if errors.As(err, &resErr) && resErr.NoStreams {
		metrics.IncStreamRequest("no_streams")
		g.log.Warn().Str("url", safeurl.Redact(streamURL)).Msg("no playable streams")
		writeJSONError(w, http.StatusNotFound, "no playable streams found")
		return
	}
	metrics.IncStreamRequest("resolver_error")
	g.log.Error().Err(err).Str("url", safeurl.Redact(streamURL)).Msg("stream resolution failed")
	writeJSONError(w, http.StatusInternalServerError, "failed to retrieve stream info")
}

func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}
