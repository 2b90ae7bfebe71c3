// Package resolver wraps the external stream-resolution collaborators.
// streamlink does the actual protocol work; this package only decides what
// to run, bounds how long the probe may take, and guarantees that no child
// process outlives its tune request.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/config"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/safeurl"
)

// ResolutionError reports a failed probe or relay start. NoStreams marks
// "the source has nothing playable right now" as opposed to an operational
// failure of the resolver itself.
type ResolutionError struct {
	Reason    string
	NoStreams bool
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolver: %s: %v", e.Reason, e.Err)
	}
	return "resolver: " + e.Reason
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver probes and opens live streams via streamlink, with a yt-dlp URL
// extraction fallback for YouTube sources.
type Resolver struct {
	StreamlinkPath string
	YTDLPPath      string
	ProbeTimeout   time.Duration

	log zerolog.Logger
}

func New(cfg *config.Config) *Resolver {
	return &Resolver{
		StreamlinkPath: cfg.StreamlinkPath,
		YTDLPPath:      cfg.YTDLPPath,
		ProbeTimeout:   cfg.ResolveTimeout,
		log:            logging.WithComponent("resolver"),
	}
}

// probeResult is the subset of streamlink --json output we act on.
// streamlink exits nonzero but still prints {"error": ...} when a source
// has no playable streams; that is a NoStreams condition, not a failure.
type probeResult struct {
	Error   string                     `json:"error"`
	Streams map[string]json.RawMessage `json:"streams"`
}

func (p *probeResult) hasBest() bool {
	if p.Error != "" {
		return false
	}
	_, ok := p.Streams["best"]
	return ok
}

// Probe verifies that streamURL has a playable "best" stream and returns
// the URL the relay should use. YouTube sources that streamlink cannot
// handle directly are retried through yt-dlp URL extraction. The whole
// probe, fallback included, is bounded by ProbeTimeout.
func (r *Resolver) Probe(ctx context.Context, streamURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()

	info, err := r.probeOnce(ctx, streamURL)
	if err != nil {
		return "", &ResolutionError{Reason: "stream info probe failed", Err: err}
	}
	if info.hasBest() {
		return streamURL, nil
	}

	if isYouTube(streamURL) {
		direct, err := r.extractDirectURL(ctx, streamURL)
		if err != nil {
			r.log.Debug().Err(err).Str("url", safeurl.Redact(streamURL)).Msg("yt-dlp fallback failed")
		} else if direct != "" {
			info, err := r.probeOnce(ctx, direct)
			if err != nil {
				return "", &ResolutionError{Reason: "stream info probe failed", Err: err}
			}
			if info.hasBest() {
				return direct, nil
			}
		}
	}
	return "", &ResolutionError{Reason: "no playable streams", NoStreams: true}
}

func (r *Resolver) probeOnce(ctx context.Context, streamURL string) (*probeResult, error) {
	out, err := exec.CommandContext(ctx, r.StreamlinkPath, "--json", streamURL).Output()
	var res probeResult
	if jsonErr := json.Unmarshal(out, &res); jsonErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("parse probe output: %w", jsonErr)
	}
	return &res, nil
}

// extractDirectURL asks yt-dlp for the direct media URL of a YouTube page.
func (r *Resolver) extractDirectURL(ctx context.Context, pageURL string) (string, error) {
	out, err := exec.CommandContext(ctx, r.YTDLPPath,
		"--get-url", "--youtube-skip-dash-manifest", pageURL).Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned no URL")
}

func isYouTube(streamURL string) bool {
	u, err := url.Parse(streamURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

// Session is one running relay subprocess. Read streams its MPEG-TS output;
// Close tears the process down: SIGTERM, then SIGKILL after five seconds if
// it lingers.
type Session struct {
	ID  string
	URL string

	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	cancel    context.CancelFunc
	closeOnce sync.Once
	waitErr   error
}

// Open starts the relay process for a probed URL. The session also dies
// with ctx, so a dropped client connection reaps the child without any
// extra bookkeeping.
func (r *Resolver) Open(ctx context.Context, streamURL string) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, r.StreamlinkPath,
		streamURL, "best", "--hls-live-restart", "--stdout")
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &ResolutionError{Reason: "open relay stdout", Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &ResolutionError{Reason: "start relay process", Err: err}
	}

	s := &Session{
		ID:     uuid.NewString(),
		URL:    streamURL,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		cancel: cancel,
	}
	r.log.Info().Str("session", s.ID).Str("url", safeurl.Redact(streamURL)).
		Int("pid", cmd.Process.Pid).Msg("relay started")
	return s, nil
}

func (s *Session) Read(p []byte) (int, error) { return s.stdout.Read(p) }

// Close is idempotent and always reaps the child.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.waitErr = s.cmd.Wait()
	})
	return nil
}

// StderrTail returns the end of the relay's stderr for failure logs.
func (s *Session) StderrTail() string {
	const max = 512
	b := s.stderr.Bytes()
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return strings.TrimSpace(string(b))
}
