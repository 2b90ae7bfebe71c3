// Package device holds the emulated tuner's identity: the stable values
// DVR clients key on across discovery, lineup, and SSDP.
package device

import (
	"crypto/rand"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/hometuner/hometuner/internal/catalog"
	"github.com/hometuner/hometuner/internal/config"
)

// Identity is immutable after construction and shared read-only by the HTTP
// surface, the SSDP broadcaster, and the native protocol server.
type Identity struct {
	DeviceID        string // 8 uppercase hex chars
	FriendlyName    string
	Manufacturer    string
	Model           string
	FirmwareName    string
	FirmwareVersion string
	TunerCount      int
	BaseURL         string
}

// New builds the identity from config. When HDHR_DEVICE_ID is unset the id
// is derived from the primary MAC so it survives restarts on the same host;
// hosts without a usable interface get a random one.
func New(cfg *config.Config) *Identity {
	id := cfg.DeviceID
	if id == "" {
		id = deriveDeviceID()
	}
	return &Identity{
		DeviceID:        id,
		FriendlyName:    cfg.FriendlyName,
		Manufacturer:    cfg.Manufacturer,
		Model:           cfg.Model,
		FirmwareName:    cfg.Firmware,
		FirmwareVersion: cfg.FirmwareVersion,
		TunerCount:      cfg.TunerCount,
		BaseURL:         cfg.BaseURL(),
	}
}

// DeviceAuth mirrors DeviceID, like the hardware this emulates.
func (id *Identity) DeviceAuth() string { return id.DeviceID }

// LineupURL is where clients fetch the channel lineup.
func (id *Identity) LineupURL() string { return id.BaseURL + "/lineup.json" }

// UDN is the UPnP unique device name advertised over SSDP and in device.xml.
func (id *Identity) UDN() string { return "uuid:" + id.DeviceID }

// DeviceID32 returns the id as the 32-bit value used by the native binary
// protocol.
func (id *Identity) DeviceID32() uint32 {
	n, err := strconv.ParseUint(id.DeviceID, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// LineupEntry is one row of /lineup.json. Station is set for channels with
// artwork; some guide clients use it to pick a logo source.
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
	Station     string `json:"Station,omitempty"`
}

// Lineup projects the catalog into lineup entries ordered by channel number.
// Stream URLs route through this tuner's gateway with the upstream URL
// percent-encoded. A nil catalog yields an empty, non-nil slice.
func Lineup(id *Identity, cat *catalog.Catalog) []LineupEntry {
	if cat == nil {
		return []LineupEntry{}
	}
	channels := cat.ByNumber()
	entries := make([]LineupEntry, 0, len(channels))
	for _, ch := range channels {
		e := LineupEntry{
			GuideNumber: strconv.Itoa(ch.Number),
			GuideName:   ch.Name,
			URL:         id.BaseURL + "/stream?url=" + url.QueryEscape(ch.SourceURL),
		}
		if ch.LogoURL != "" {
			e.Station = e.GuideNumber
		}
		entries = append(entries, e)
	}
	return entries
}

func deriveDeviceID() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			var mac uint64
			for _, b := range iface.HardwareAddr {
				mac = mac<<8 | uint64(b)
			}
			return fmt.Sprintf("%08X", uint32(mac&0xFFFFFFFF))
		}
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "10501050"
	}
	return fmt.Sprintf("%08X", uint32(buf[0])<<24|uint32(buf[1])<<16|uint32(buf[2])<<8|uint32(buf[3]))
}
