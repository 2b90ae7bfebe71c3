package tuner

import (
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/catalog"
	"github.com/hometuner/hometuner/internal/config"
	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/epg"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/metrics"
	"github.com/hometuner/hometuner/internal/playlist"
)

// Generator rebuilds the playlist and guide artifacts from a channel
// document and publishes the parsed catalog. A mutex serializes rebuilds so
// two concurrent requests cannot interleave writes to the same files; the
// catalog is only swapped in after every artifact landed, so a failed
// rebuild leaves both the published catalog and the files on disk as they
// were.
type Generator struct {
	cfg   *config.Config
	id    *device.Identity
	store *catalog.Store
	log   zerolog.Logger

	mu sync.Mutex
}

func NewGenerator(cfg *config.Config, id *device.Identity, store *catalog.Store) *Generator {
	return &Generator{
		cfg:   cfg,
		id:    id,
		store: store,
		log:   logging.WithComponent("generator"),
	}
}

// RebuildResult carries the freshly built artifacts for direct serving.
type RebuildResult struct {
	Catalog      *catalog.Catalog
	Playlist     []byte
	Guide        []byte
	PlaylistPath string
	GuidePath    string
}

// Rebuild parses the named channel document from the data directory and
// regenerates both artifacts. An empty xmlName means the configured default.
// The name is reduced to its base so callers cannot reach outside the data
// directory.
func (g *Generator) Rebuild(xmlName string) (*RebuildResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if xmlName == "" {
		xmlName = g.cfg.ChannelsXML
	}
	xmlPath := filepath.Join(g.cfg.DataDir, filepath.Base(xmlName))

	cat, err := catalog.LoadFile(xmlPath)
	if err != nil {
		metrics.RecordCatalogRefresh("parse_error", 0)
		return nil, err
	}

	m3u := playlist.Build(cat, g.id.BaseURL)
	m3uPath := filepath.Join(g.cfg.DataDir, playlist.Filename(cat.SourceName))
	if err := playlist.WriteFile(m3uPath, m3u); err != nil {
		metrics.RecordCatalogRefresh("write_error", 0)
		return nil, err
	}

	guide, err := epg.Build(cat, g.id.BaseURL, time.Now())
	if err != nil {
		metrics.RecordCatalogRefresh("write_error", 0)
		return nil, err
	}
	guidePath := filepath.Join(g.cfg.DataDir, epg.Filename(cat.SourceName))
	if err := epg.WriteFile(guidePath, guide); err != nil {
		metrics.RecordCatalogRefresh("write_error", 0)
		return nil, err
	}

	g.store.Swap(cat)
	metrics.RecordCatalogRefresh("success", len(cat.Channels))
	g.log.Info().
		Str("xml", filepath.Base(xmlPath)).
		Int("channels", len(cat.Channels)).
		Str("playlist", filepath.Base(m3uPath)).
		Str("guide", filepath.Base(guidePath)).
		Msg("artifacts rebuilt")

	return &RebuildResult{
		Catalog:      cat,
		Playlist:     m3u,
		Guide:        guide,
		PlaylistPath: m3uPath,
		GuidePath:    guidePath,
	}, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, err := s.gen.Rebuild(r.URL.Query().Get("xml"))
	if err != nil {
		s.writeRebuildError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	_, _ = w.Write(res.Playlist)
}

func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	res, err := s.gen.Rebuild(r.URL.Query().Get("xml"))
	if err != nil {
		s.writeRebuildError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(res.Guide)
}

// writeRebuildError maps the rebuild error taxonomy onto HTTP: a missing
// document is 404, any other catalog problem is the operator's 400, and a
// write failure is our 500.
func (s *Server) writeRebuildError(w http.ResponseWriter, err error) {
	var catErr *catalog.CatalogError
	if errors.As(err, &catErr) {
		status := http.StatusBadRequest
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.log.Warn().Err(err).Msg("catalog rebuild rejected")
		writeJSONError(w, status, err.Error())
		return
	}
	s.log.Error().Err(err).Msg("artifact write failed")
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
