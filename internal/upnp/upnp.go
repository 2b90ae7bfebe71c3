// Package upnp announces the tuner over SSDP so DVR clients can find it
// without manual URL entry. Announcement is best-effort: on networks where
// multicast is unavailable the broadcaster shuts itself off and the HTTP
// surface keeps working.
package upnp

import (
	"context"
	"time"

	"github.com/koron/go-ssdp"
	"github.com/rs/zerolog"

	"github.com/hometuner/hometuner/internal/device"
	"github.com/hometuner/hometuner/internal/logging"
	"github.com/hometuner/hometuner/internal/metrics"
)

// ServiceType is what DVR clients M-SEARCH for.
const ServiceType = "urn:schemas-upnp-org:device:MediaServer:1"

// ServerString identifies us in SSDP replies and NOTIFY packets.
const ServerString = "hometuner/1.0 UPnP/1.0 HDHomeRun/1.0"

const maxAgeSeconds = 1800

// Broadcaster answers M-SEARCH queries for the MediaServer service type and
// sends periodic ssdp:alive notifications.
type Broadcaster struct {
	id       *device.Identity
	interval time.Duration
	log      zerolog.Logger
}

func New(id *device.Identity, notifyInterval time.Duration) *Broadcaster {
	return &Broadcaster{
		id:       id,
		interval: notifyInterval,
		log:      logging.WithComponent("upnp"),
	}
}

// USN is the unique service name sent in replies: device UDN qualified by
// the service type.
func (b *Broadcaster) USN() string { return b.id.UDN() + "::" + ServiceType }

// Run advertises until ctx is canceled, then says goodbye. A failure to
// join the multicast group is logged and disables only the broadcaster;
// Run returns nil so the rest of the service keeps going.
func (b *Broadcaster) Run(ctx context.Context) error {
	ad, err := ssdp.Advertise(
		ServiceType,
		b.USN(),
		b.id.BaseURL+"/device.xml",
		ServerString,
		maxAgeSeconds)
	if err != nil {
		b.log.Error().Err(err).Msg("ssdp advertise failed, presence broadcasting disabled")
		return nil
	}
	defer ad.Close()

	b.log.Info().
		Str("st", ServiceType).
		Str("usn", b.USN()).
		Str("location", b.id.BaseURL+"/device.xml").
		Msg("ssdp advertising")

	if err := ad.Alive(); err != nil {
		b.log.Warn().Err(err).Msg("ssdp alive notify failed")
	} else {
		metrics.IncSSDPAnnouncement()
	}
	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := ad.Bye(); err != nil {
				b.log.Debug().Err(err).Msg("ssdp bye failed")
			}
			return nil
		case <-tick.C:
			if err := ad.Alive(); err != nil {
				b.log.Warn().Err(err).Msg("ssdp alive notify failed")
			} else {
				metrics.IncSSDPAnnouncement()
			}
		}
	}
}
