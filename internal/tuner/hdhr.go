package tuner

import (
	"fmt"
	"net/http"

	"github.com/hometuner/hometuner/internal/device"
)

// discoverResponse is the HDHomeRun device descriptor served at
// /discover.json. Field order matters to no client, but keeping it fixed
// makes the endpoint byte-stable.
type discoverResponse struct {
	FriendlyName    string
	Manufacturer    string
	ModelNumber     string
	FirmwareName    string
	FirmwareVersion string
	DeviceID        string
	DeviceAuth      string
	BaseURL         string
	LineupURL       string
	TunerCount      int
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, discoverResponse{
		FriendlyName:    s.id.FriendlyName,
		Manufacturer:    s.id.Manufacturer,
		ModelNumber:     s.id.Model,
		FirmwareName:    s.id.FirmwareName,
		FirmwareVersion: s.id.FirmwareVersion,
		DeviceID:        s.id.DeviceID,
		DeviceAuth:      s.id.DeviceAuth(),
		BaseURL:         s.id.BaseURL,
		LineupURL:       s.id.LineupURL(),
		TunerCount:      s.id.TunerCount,
	})
}

func (s *Server) handleLineup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, device.Lineup(s.id, s.store.Current()))
}

// handleLineupStatus always reports idle: this tuner has no RF frontend, so
// there is never a scan to report progress on.
func (s *Server) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		ScanInProgress int
		ScanPossible   int
		Source         string
		SourceList     []string
	}{
		ScanInProgress: 0,
		ScanPossible:   0,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	})
}

// handleLineupPost accepts scan triggers unconditionally. Real hardware
// starts a channel scan here; we have nothing to scan, but clients expect
// the request to succeed.
func (s *Server) handleLineupPost(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
    <specVersion>
        <major>1</major>
        <minor>0</minor>
    </specVersion>
    <URLBase>%s</URLBase>
    <device>
        <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
        <friendlyName>%s</friendlyName>
        <manufacturer>%s</manufacturer>
        <modelName>%s</modelName>
        <modelNumber>%s</modelNumber>
        <serialNumber></serialNumber>
        <UDN>%s</UDN>
    </device>
</root>`, s.id.BaseURL, s.id.FriendlyName, s.id.Manufacturer, s.id.Model, s.id.Model, s.id.UDN())
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(body))
}
