package tuner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hometuner/hometuner/internal/config"
	"github.com/hometuner/hometuner/internal/logging"
)

// watchSettle is how long the document must stay quiet before a rebuild;
// editors and scp produce bursts of write events for one logical change.
const watchSettle = 500 * time.Millisecond

// Watcher rebuilds the artifacts when the active channel document changes
// on disk. Failures disable only the watcher; /generate keeps working.
type Watcher struct {
	gen    *Generator
	dir    string
	file   string
	settle time.Duration
	limit  *rate.Limiter
	log    zerolog.Logger
}

func NewWatcher(cfg *config.Config, gen *Generator) *Watcher {
	return &Watcher{
		gen:    gen,
		dir:    cfg.DataDir,
		file:   filepath.Base(cfg.ChannelsXML),
		settle: watchSettle,
		limit:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:    logging.WithComponent("watcher"),
	}
}

// Run watches until ctx is canceled. Setup errors are logged and Run
// returns nil so a missing inotify budget cannot take the service down.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error().Err(err).Msg("watcher init failed, live regeneration disabled")
		return nil
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		w.log.Error().Err(err).Str("dir", w.dir).Msg("watch failed, live regeneration disabled")
		return nil
	}
	w.log.Info().Str("dir", w.dir).Str("file", w.file).Msg("watching channel document")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != w.file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.settle)
				fire = timer.C
			} else {
				timer.Reset(w.settle)
			}
		case <-fire:
			timer = nil
			fire = nil
			if !w.limit.Allow() {
				continue
			}
			if _, err := w.gen.Rebuild(""); err != nil {
				w.log.Warn().Err(err).Msg("rebuild after change failed, keeping previous artifacts")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}
