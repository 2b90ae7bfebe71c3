// Command hometuner emulates an HDHomeRun network tuner in front of
// operator-defined live streams.
//
//	run          serve the tuner: HTTP surface, SSDP presence, optional native protocol
//	generate     one-shot playlist + guide build from the channel document
//	healthcheck  probe a running server's discovery endpoints (container HEALTHCHECK)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hometuner/hometuner/internal/catalog"
	"github.com/hometuner/hometuner/internal/config"
	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/hdhomerun"
	"github.com/hometuner/hometuner/internal/health"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/resolver"
	"github.com/hometuner/hometuner/internal/tuner"
	"github.com/hometuner/hometuner/internal/upnp"
)

func main() {
	_ = config.LoadEnvFile(".env")
	cfg := config.Load()
	logging.Configure(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.WithComponent("main")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	generateCmd := flag.NewFlagSet("generate", flag.ExitOnError)
	generateXML := generateCmd.String("xml", "", "channel document name inside the data dir (default: CHANNELS_XML)")
	healthCmd := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	healthAddr := healthCmd.String("addr", "", "base URL to probe (default: http://127.0.0.1:SERVER_PORT)")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|generate|healthcheck> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  run          serve the tuner (for systemd / containers)\n")
		fmt.Fprintf(os.Stderr, "  generate     build playlist + guide once and exit\n")
		fmt.Fprintf(os.Stderr, "  healthcheck  probe a running server's endpoints\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		if err := run(cfg); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}

	case "generate":
		_ = generateCmd.Parse(os.Args[2:])
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		id := device.New(cfg)
		gen := tuner.NewGenerator(cfg, id, &catalog.Store{})
		res, err := gen.Rebuild(*generateXML)
		if err != nil {
			log.Fatal().Err(err).Msg("generate failed")
		}
		log.Info().
			Int("channels", len(res.Catalog.Channels)).
			Str("playlist", res.PlaylistPath).
			Str("guide", res.GuidePath).
			Msg("artifacts written")

	case "healthcheck":
		_ = healthCmd.Parse(os.Args[2:])
		base := *healthAddr
		if base == "" {
			base = "http://127.0.0.1:" + strconv.Itoa(cfg.Port)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := health.CheckEndpoints(ctx, base); err != nil {
			log.Error().Err(err).Msg("healthcheck failed")
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logging.WithComponent("main")
	id := device.New(cfg)
	store := &catalog.Store{}
	gen := tuner.NewGenerator(cfg, id, store)
	srv := tuner.NewServer(cfg, id, store, gen, resolver.New(cfg))

	log.Info().
		Str("device_id", id.DeviceID).
		Str("friendly_name", id.FriendlyName).
		Str("base_url", id.BaseURL).
		Int("tuners", id.TunerCount).
		Msg("starting")

	// Seed artifacts and the catalog when the default document is present.
	// Its absence is a fresh deployment, not an error; /generate builds
	// everything once the operator drops the file in.
	if _, err := os.Stat(cfg.ChannelsXMLPath()); err == nil {
		if _, err := gen.Rebuild(""); err != nil {
			log.Warn().Err(err).Msg("startup generation failed, serving without a catalog")
		}
	} else {
		log.Info().Str("xml", cfg.ChannelsXMLPath()).Msg("no channel document yet")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.SSDPEnabled {
		b := upnp.New(id, cfg.SSDPNotifyInterval)
		g.Go(func() error { return b.Run(ctx) })
	}
	if cfg.HDHRNetworkMode {
		h := hdhomerun.NewServer(id, cfg.HDHRDiscoverPort, cfg.HDHRControlPort)
		g.Go(func() error {
			if err := h.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("native protocol failed, continuing without it")
			}
			return nil
		})
	}
	if cfg.WatchXML {
		w := tuner.NewWatcher(cfg, gen)
		g.Go(func() error { return w.Run(ctx) })
	}

	// SIGHUP forces a rebuild, matching the usual reload convention.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				if _, err := gen.Rebuild(""); err != nil {
					log.Warn().Err(err).Msg("reload failed, keeping previous catalog")
				}
			}
		}
	})

	return g.Wait()
}
