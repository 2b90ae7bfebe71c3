package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.DataDir != "/data" {
		t.Errorf("DataDir default: got %q", c.DataDir)
	}
	if c.ChannelsXML != "youtubelinks.xml" {
		t.Errorf("ChannelsXML default: got %q", c.ChannelsXML)
	}
	if c.HostIP != "192.168.1.123" {
		t.Errorf("HostIP default: got %q", c.HostIP)
	}
	if c.Port != 6095 {
		t.Errorf("Port default: got %d", c.Port)
	}
	if c.DeviceID != "" {
		t.Errorf("DeviceID default should be empty; got %q", c.DeviceID)
	}
	if c.FriendlyName != "hometuner" {
		t.Errorf("FriendlyName default: got %q", c.FriendlyName)
	}
	if c.TunerCount != 2 {
		t.Errorf("TunerCount default: got %d", c.TunerCount)
	}
	if c.Manufacturer != "Silicondust" {
		t.Errorf("Manufacturer default: got %q", c.Manufacturer)
	}
	if c.Model != "HDTC-2US" {
		t.Errorf("Model default: got %q", c.Model)
	}
	if c.Firmware != "hdhomerun3_atsc" {
		t.Errorf("Firmware default: got %q", c.Firmware)
	}
	if c.FirmwareVersion != "20200101" {
		t.Errorf("FirmwareVersion default: got %q", c.FirmwareVersion)
	}
	if c.HDHRNetworkMode {
		t.Error("HDHRNetworkMode should default false")
	}
	if c.HDHRDiscoverPort != 65001 || c.HDHRControlPort != 65001 {
		t.Errorf("native ports default: got %d/%d", c.HDHRDiscoverPort, c.HDHRControlPort)
	}
	if !c.SSDPEnabled {
		t.Error("SSDPEnabled should default true")
	}
	if c.SSDPNotifyInterval != 30*time.Second {
		t.Errorf("SSDPNotifyInterval default: got %v", c.SSDPNotifyInterval)
	}
	if c.ResolveTimeout != 30*time.Second {
		t.Errorf("ResolveTimeout default: got %v", c.ResolveTimeout)
	}
	if c.StreamChunkBytes != 4096 {
		t.Errorf("StreamChunkBytes default: got %d", c.StreamChunkBytes)
	}
	if c.StreamlinkPath != "streamlink" || c.YTDLPPath != "yt-dlp" {
		t.Errorf("resolver paths default: got %q/%q", c.StreamlinkPath, c.YTDLPPath)
	}
	if !c.WatchXML {
		t.Error("WatchXML should default true")
	}
}

func TestLoad_explicit(t *testing.T) {
	os.Clearenv()
	os.Setenv("M3U_DIR", "/srv/tv")
	os.Setenv("HOST_IP", "10.0.0.9")
	os.Setenv("SERVER_PORT", "8080")
	os.Setenv("CHANNELS_XML", "mychannels.xml")
	os.Setenv("HDHR_DEVICE_ID", "deadbeef")
	os.Setenv("HDHR_TUNER_COUNT", "4")
	os.Setenv("HDHR_NETWORK_MODE", "1")
	os.Setenv("SSDP_ENABLED", "no")
	os.Setenv("RESOLVE_TIMEOUT", "10s")
	c := Load()
	if c.DataDir != "/srv/tv" {
		t.Errorf("DataDir: got %q", c.DataDir)
	}
	if c.HostIP != "10.0.0.9" || c.Port != 8080 {
		t.Errorf("host/port: got %q/%d", c.HostIP, c.Port)
	}
	if c.DeviceID != "DEADBEEF" {
		t.Errorf("DeviceID should be uppercased; got %q", c.DeviceID)
	}
	if c.TunerCount != 4 {
		t.Errorf("TunerCount: got %d", c.TunerCount)
	}
	if !c.HDHRNetworkMode {
		t.Error("HDHRNetworkMode should be true for 1")
	}
	if c.SSDPEnabled {
		t.Error("SSDPEnabled should be false for no")
	}
	if c.ResolveTimeout != 10*time.Second {
		t.Errorf("ResolveTimeout: got %v", c.ResolveTimeout)
	}
	if c.ChannelsXMLPath() != "/srv/tv/mychannels.xml" {
		t.Errorf("ChannelsXMLPath: got %q", c.ChannelsXMLPath())
	}
}

func TestLoad_clampsNonsense(t *testing.T) {
	os.Clearenv()
	os.Setenv("HDHR_TUNER_COUNT", "-3")
	os.Setenv("STREAM_CHUNK_BYTES", "0")
	os.Setenv("RESOLVE_TIMEOUT", "-5s")
	c := Load()
	if c.TunerCount != 2 {
		t.Errorf("TunerCount clamp: got %d", c.TunerCount)
	}
	if c.StreamChunkBytes != 4096 {
		t.Errorf("StreamChunkBytes clamp: got %d", c.StreamChunkBytes)
	}
	if c.ResolveTimeout != 30*time.Second {
		t.Errorf("ResolveTimeout clamp: got %v", c.ResolveTimeout)
	}
}

func TestValidate(t *testing.T) {
	os.Clearenv()
	c := Load()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	c = Load()
	c.Port = 0
	var cerr *ConfigError
	if err := c.Validate(); !errors.As(err, &cerr) || cerr.Field != "SERVER_PORT" {
		t.Errorf("port 0: got %v", err)
	}

	c = Load()
	c.DeviceID = "XYZ12345"
	if err := c.Validate(); !errors.As(err, &cerr) || cerr.Field != "HDHR_DEVICE_ID" {
		t.Errorf("bad device id: got %v", err)
	}

	c = Load()
	c.DeviceID = "1234ABCD"
	if err := c.Validate(); err != nil {
		t.Errorf("valid device id rejected: %v", err)
	}

	c = Load()
	c.HDHRControlPort = 70000
	if err := c.Validate(); !errors.As(err, &cerr) || cerr.Field != "HDHR_CONTROL_PORT" {
		t.Errorf("bad control port: got %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("HOST_IP", "192.168.4.20")
	os.Setenv("SERVER_PORT", "6095")
	c := Load()
	if got := c.BaseURL(); got != "http://192.168.4.20:6095" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestLoadEnvFile_missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent")); err != nil {
		t.Fatalf("missing file should return nil: %v", err)
	}
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HOST_IP=1.2.3.4\n# comment\nSERVER_PORT=7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	c := Load()
	if c.HostIP != "1.2.3.4" || c.Port != 7000 {
		t.Errorf("env file not applied: %q/%d", c.HostIP, c.Port)
	}
}

func TestLoadEnvFile_unquote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(`HDHR_FRIENDLY_NAME="Living Room"`), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := Load().FriendlyName; got != "Living Room" {
		t.Errorf("FriendlyName = %q", got)
	}
}
