package hdhomerun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/metrics"
)

// readInterval bounds how long a read blocks so the loop can notice a
// canceled context.
const readInterval = 5 * time.Second

// Replies are rate limited so a spoofed broadcast storm cannot turn us
// into an amplifier.
const (
	replyPerSecond = 10
	replyBurst     = 20
)

// DiscoverServer answers discovery probes on UDP 65001.
type DiscoverServer struct {
	id    *device.Identity
	devID uint32
	conn  *net.UDPConn
	limit *rate.Limiter
	log   zerolog.Logger
}

// NewDiscoverServer binds the discovery socket. Port 0 picks an ephemeral
// port, which only tests want.
func NewDiscoverServer(id *device.Identity, port int) (*DiscoverServer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("hdhomerun: listen udp: %w", err)
	}
	return &DiscoverServer{
		id:    id,
		devID: id.DeviceID32(),
		conn:  conn,
		limit: rate.NewLimiter(rate.Limit(replyPerSecond), replyBurst),
		log:   logging.WithComponent("hdhomerun"),
	}, nil
}

// Port reports the bound UDP port.
func (s *DiscoverServer) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run answers probes until ctx is canceled or the socket is closed.
func (s *DiscoverServer) Run(ctx context.Context) error {
	s.log.Info().Int("port", s.Port()).Msg("native discovery listening")

	buf := make([]byte, 2048)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readInterval)); err != nil {
			return fmt.Errorf("hdhomerun: set deadline: %w", err)
		}
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil
				default:
					continue
				}
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("hdhomerun: discover read: %w", err)
		}

		reply := s.answer(buf[:n])
		if reply == nil {
			continue
		}
		if !s.limit.Allow() {
			s.log.Warn().Stringer("peer", peer).Msg("discovery reply rate limited")
			continue
		}
		if _, err := s.conn.WriteToUDP(reply.Encode(), peer); err != nil {
			s.log.Warn().Stringer("peer", peer).Err(err).Msg("discovery reply failed")
			continue
		}
		metrics.IncDiscoverReply()
		s.log.Debug().Stringer("peer", peer).Msg("discovery reply sent")
	}
}

// answer decides whether a datagram deserves a reply. Malformed frames and
// probes aimed at other devices are dropped silently, as real tuners do.
func (s *DiscoverServer) answer(data []byte) *Packet {
	pkt, err := Decode(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("ignoring malformed datagram")
		return nil
	}
	if pkt.Type != TypeDiscoverReq {
		return nil
	}

	wantType, ok := pkt.Uint32(TagDeviceType)
	if !ok {
		wantType = DeviceTypeWildcard
	}
	wantID, ok := pkt.Uint32(TagDeviceID)
	if !ok {
		wantID = DeviceIDWildcard
	}
	if wantType != DeviceTypeWildcard && wantType != DeviceTypeTuner {
		return nil
	}
	if wantID != DeviceIDWildcard && wantID != s.devID {
		return nil
	}

	return DiscoverReply(s.devID, s.id.TunerCount, s.id.BaseURL, s.id.LineupURL(), s.id.DeviceAuth())
}

// Close unblocks Run.
func (s *DiscoverServer) Close() error {
	return s.conn.Close()
}
