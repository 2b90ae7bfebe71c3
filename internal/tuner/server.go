// Package tuner is the HTTP face of the emulated device: the HDHomeRun
// discovery and lineup endpoints, generated-artifact serving, catalog
// regeneration, and the stream proxy gateway.
package tuner

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/catalog"
	"github.com/hometuner/hometuner/internal/config"
	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/resolver"
)

// Server serves every HTTP endpoint of the tuner. Identity is immutable;
// the catalog store is the only shared mutable state.
type Server struct {
	cfg     *config.Config
	id      *device.Identity
	store   *catalog.Store
	gen     *Generator
	gateway *Gateway
	log     zerolog.Logger
}

func NewServer(cfg *config.Config, id *device.Identity, store *catalog.Store, gen *Generator, res *resolver.Resolver) *Server {
	return &Server{
		cfg:   cfg,
		id:    id,
		store: store,
		gen:   gen,
		gateway: &Gateway{
			Resolver:   liveResolver{res},
			TunerCount: id.TunerCount,
			ChunkBytes: cfg.StreamChunkBytes,
			log:        logging.WithComponent("gateway"),
		},
		log: logging.WithComponent("http"),
	}
}

// Routes assembles the router. The stream gateway and /metrics bypass the
// compression middleware: one is a live MPEG-TS relay, the other is scraped
// by collectors that negotiate their own encoding.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Group(func(r chi.Router) {
		r.Use(compressBrotli)
		r.Get("/discover.json", s.handleDiscover)
		r.Get("/lineup.json", s.handleLineup)
		r.Get("/lineup_status.json", s.handleLineupStatus)
		r.Get("/device.xml", s.handleDeviceXML)
		r.Get("/m3u/{filename}", s.handleServeM3U)
		r.Get("/xml/{filename}", s.handleServeXML)
		r.Get("/epg/{filename}", s.handleServeXML)
		r.Get("/generate", s.handleGenerate)
		r.Get("/epg", s.handleEPG)
	})

	r.Get("/lineup.post", s.handleLineupPost)
	r.Post("/lineup.post", s.handleLineupPost)
	r.Get("/stream", s.gateway.ServeHTTP)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run blocks until ctx is canceled or the listener fails. On shutdown it
// stops accepting connections and gives in-flight requests ten seconds.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Str("base_url", s.id.BaseURL).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown")
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	cat := s.store.Current()
	if cat == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"loading"}`))
		return
	}
	body, _ := json.Marshal(map[string]any{
		"status":       "ok",
		"channels":     len(cat.Channels),
		"last_refresh": cat.LoadedAt.Format(time.RFC3339),
	})
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
