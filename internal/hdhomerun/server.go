package hdhomerun

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/logging"
)

// Server runs both native-protocol listeners. Real hardware shares port
// 65001 between UDP discovery and TCP control; so do we by default.
type Server struct {
	id           *device.Identity
	discoverPort int
	controlPort  int
	log          zerolog.Logger
}

func NewServer(id *device.Identity, discoverPort, controlPort int) *Server {
	return &Server{
		id:           id,
		discoverPort: discoverPort,
		controlPort:  controlPort,
		log:          logging.WithComponent("hdhomerun"),
	}
}

// Run blocks until ctx is canceled. Callers decide whether network mode is
// enabled at all; an instantiated server always listens.
func (s *Server) Run(ctx context.Context) error {
	discover, err := NewDiscoverServer(s.id, s.discoverPort)
	if err != nil {
		return err
	}
	control := NewControlServer(s.id)

	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: s.controlPort})
	if err != nil {
		discover.Close()
		return fmt.Errorf("hdhomerun: listen tcp: %w", err)
	}

	s.log.Info().
		Str("device_id", s.id.DeviceID).
		Int("tuners", s.id.TunerCount).
		Msg("native protocol enabled")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return discover.Run(ctx) })
	g.Go(func() error { return control.Serve(ctx, ln) })
	g.Go(func() error {
		<-ctx.Done()
		discover.Close()
		ln.Close()
		return nil
	})
	return g.Wait()
}
