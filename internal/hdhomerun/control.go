package hdhomerun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/metrics"
)

// controlIdleTimeout closes sessions whose client went away without a FIN.
const controlIdleTimeout = 2 * time.Minute

const helpText = "supported configuration options:\n" +
	"get /sys/model\n" +
	"get /sys/hwmodel\n" +
	"get /sys/version\n" +
	"get /sys/features\n" +
	"get /tuner<n>/status\n" +
	"get|set /tuner<n>/channel\n" +
	"get|set /tuner<n>/vchannel\n" +
	"get|set /tuner<n>/lockkey\n" +
	"get|set /tuner<n>/target\n"

const sysFeatures = "channelmap: us-bcast us-cable\n" +
	"modulation: 8vsb qam256 qam64\n" +
	"auto-modulation: auto auto6t auto6c qam\n"

// ControlServer answers get/set requests on the TCP control channel.
// Tuner state is emulated: sets are remembered and reflected in status
// lines, but nothing is tuned since playback goes through the HTTP
// stream gateway.
type ControlServer struct {
	id  *device.Identity
	log zerolog.Logger

	mu     sync.Mutex
	tuners []tunerState
}

type tunerState struct {
	channel  string
	vchannel string
	target   string
	lockkey  uint32
}

func NewControlServer(id *device.Identity) *ControlServer {
	return &ControlServer{
		id:     id,
		log:    logging.WithComponent("hdhomerun"),
		tuners: make([]tunerState, id.TunerCount),
	}
}

// Serve accepts control sessions until ctx is canceled or the listener is
// closed.
func (s *ControlServer) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Stringer("addr", ln.Addr()).Msg("native control listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("hdhomerun: accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(controlIdleTimeout)); err != nil {
			return
		}
		req, err := ReadPacket(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Stringer("peer", peer).Err(err).Msg("control session closed")
			}
			return
		}
		if _, err := conn.Write(s.respond(req).Encode()); err != nil {
			s.log.Debug().Stringer("peer", peer).Err(err).Msg("control write failed")
			return
		}
	}
}

// respond maps one request packet to its reply.
func (s *ControlServer) respond(req *Packet) *Packet {
	metrics.IncControlRequest()

	if req.Type != TypeGetSetReq {
		return ErrorReply("unsupported packet type")
	}
	name, ok := req.String(TagGetSetName)
	if !ok {
		return ErrorReply("missing getset name")
	}
	value, set := req.String(TagGetSetValue)

	reply := s.getset(name, value, set)
	ev := s.log.Debug().Str("name", name)
	if set {
		ev = ev.Str("value", value)
	}
	ev.Msg("control getset")
	return reply
}

func (s *ControlServer) getset(name, value string, set bool) *Packet {
	switch {
	case name == "help":
		return GetSetReply(name, helpText)
	case name == "/sys/model":
		return GetSetReply(name, s.id.FirmwareName)
	case name == "/sys/hwmodel":
		return GetSetReply(name, s.id.Model)
	case name == "/sys/version":
		return GetSetReply(name, s.id.FirmwareVersion)
	case name == "/sys/features":
		return GetSetReply(name, sysFeatures)
	case strings.HasPrefix(name, "/tuner"):
		return s.tunerGetSet(name, value, set)
	default:
		return ErrorReply("unknown getset variable")
	}
}

func (s *ControlServer) tunerGetSet(name, value string, set bool) *Packet {
	idxStr, prop, ok := strings.Cut(strings.TrimPrefix(name, "/tuner"), "/")
	if !ok {
		return ErrorReply("unknown getset variable")
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(s.tuners) {
		return ErrorReply("tuner " + idxStr + " out of range")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := &s.tuners[idx]

	switch prop {
	case "status":
		return GetSetReply(name, t.statusLine())

	case "channel":
		if set {
			t.channel = noneToEmpty(value)
		}
		return GetSetReply(name, emptyToNone(t.channel))

	case "vchannel":
		if set {
			t.vchannel = noneToEmpty(value)
		}
		return GetSetReply(name, emptyToNone(t.vchannel))

	case "lockkey":
		if set {
			switch value {
			case "none", "force", "":
				t.lockkey = 0
			default:
				key, err := strconv.ParseUint(value, 10, 32)
				if err != nil {
					return ErrorReply("invalid lockkey")
				}
				t.lockkey = uint32(key)
			}
		}
		if t.lockkey == 0 {
			return GetSetReply(name, "none")
		}
		return GetSetReply(name, strconv.FormatUint(uint64(t.lockkey), 10))

	case "target":
		if set {
			t.target = noneToEmpty(value)
		}
		return GetSetReply(name, emptyToNone(t.target))

	default:
		return ErrorReply("unknown getset variable")
	}
}

// statusLine mimics the signal report of real hardware. An emulated tuner
// has either no lock or a perfect one.
func (t *tunerState) statusLine() string {
	if t.channel == "" {
		return "ch=none lock=none ss=0 snq=0 seq=0 bps=0 pps=0"
	}
	lock := t.channel
	if mod, _, ok := strings.Cut(t.channel, ":"); ok {
		lock = mod
	}
	return fmt.Sprintf("ch=%s lock=%s ss=100 snq=100 seq=100 bps=0 pps=0", t.channel, lock)
}

func noneToEmpty(v string) string {
	if v == "none" {
		return ""
	}
	return v
}

func emptyToNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
