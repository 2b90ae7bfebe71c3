// Package config loads tuner settings from the environment. Variable names
// follow the original container deployment (M3U_DIR, HOST_IP, HDHR_*), so an
// existing .env keeps working.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds device identity, network, and resolver settings.
// Call LoadEnvFile(".env") before Load() to use a .env file.
type Config struct {
	// Paths
	DataDir     string // directory holding the channel XML and generated artifacts
	ChannelsXML string // default channel document, relative to DataDir

	// HTTP surface
	HostIP string // address advertised in BaseURL, device.xml, and SSDP
	Port   int

	// Device identity
	DeviceID        string // 8 hex chars; derived from MAC when empty
	FriendlyName    string
	TunerCount      int
	Manufacturer    string
	Model           string
	Firmware        string
	FirmwareVersion string

	// Native HDHomeRun protocol (UDP discovery + TCP control)
	HDHRNetworkMode  bool
	HDHRDiscoverPort int
	HDHRControlPort  int

	// SSDP presence
	SSDPEnabled        bool
	SSDPNotifyInterval time.Duration

	// Stream resolution
	ResolveTimeout   time.Duration // bound on the probe phase, not the relay
	StreamChunkBytes int
	StreamlinkPath   string
	YTDLPPath        string

	// Regeneration
	WatchXML bool // rebuild artifacts when the channel XML changes on disk

	// Logging
	LogLevel  string
	LogFormat string
}

// ConfigError reports an unusable setting. Fatal at startup, before any
// socket is bound.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s=%q %s", e.Field, e.Value, e.Reason)
}

// Load reads config from environment.
func Load() *Config {
	c := &Config{
		DataDir:            getEnv("M3U_DIR", "/data"),
		ChannelsXML:        getEnv("CHANNELS_XML", "youtubelinks.xml"),
		HostIP:             getEnv("HOST_IP", "192.168.1.123"),
		Port:               getEnvInt("SERVER_PORT", 6095),
		DeviceID:           strings.ToUpper(strings.TrimSpace(os.Getenv("HDHR_DEVICE_ID"))),
		FriendlyName:       getEnv("HDHR_FRIENDLY_NAME", "hometuner"),
		TunerCount:         getEnvInt("HDHR_TUNER_COUNT", 2),
		Manufacturer:       getEnv("HDHR_MANUFACTURER", "Silicondust"),
		Model:              getEnv("HDHR_MODEL", "HDTC-2US"),
		Firmware:           getEnv("HDHR_FIRMWARE", "hdhomerun3_atsc"),
		FirmwareVersion:    getEnv("HDHR_FIRMWARE_VERSION", "20200101"),
		HDHRNetworkMode:    getEnvBool("HDHR_NETWORK_MODE", false),
		HDHRDiscoverPort:   getEnvInt("HDHR_DISCOVER_PORT", 65001),
		HDHRControlPort:    getEnvInt("HDHR_CONTROL_PORT", 65001),
		SSDPEnabled:        getEnvBool("SSDP_ENABLED", true),
		SSDPNotifyInterval: getEnvDuration("SSDP_NOTIFY_INTERVAL", 30*time.Second),
		ResolveTimeout:     getEnvDuration("RESOLVE_TIMEOUT", 30*time.Second),
		StreamChunkBytes:   getEnvInt("STREAM_CHUNK_BYTES", 4096),
		StreamlinkPath:     getEnv("STREAMLINK_PATH", "streamlink"),
		YTDLPPath:          getEnv("YTDLP_PATH", "yt-dlp"),
		WatchXML:           getEnvBool("WATCH_XML", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}
	if c.TunerCount <= 0 {
		c.TunerCount = 2
	}
	if c.SSDPNotifyInterval <= 0 {
		c.SSDPNotifyInterval = 30 * time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 30 * time.Second
	}
	if c.StreamChunkBytes <= 0 {
		c.StreamChunkBytes = 4096
	}
	return c
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.HostIP == "" {
		return &ConfigError{Field: "HOST_IP", Value: c.HostIP, Reason: "must not be empty"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "SERVER_PORT", Value: strconv.Itoa(c.Port), Reason: "out of range 1-65535"}
	}
	if c.DeviceID != "" && !validDeviceID(c.DeviceID) {
		return &ConfigError{Field: "HDHR_DEVICE_ID", Value: c.DeviceID, Reason: "must be 8 hex characters"}
	}
	for _, p := range []struct {
		name string
		val  int
	}{
		{"HDHR_DISCOVER_PORT", c.HDHRDiscoverPort},
		{"HDHR_CONTROL_PORT", c.HDHRControlPort},
	} {
		if p.val < 1 || p.val > 65535 {
			return &ConfigError{Field: p.name, Value: strconv.Itoa(p.val), Reason: "out of range 1-65535"}
		}
	}
	if c.DataDir == "" {
		return &ConfigError{Field: "M3U_DIR", Value: c.DataDir, Reason: "must not be empty"}
	}
	return nil
}

// BaseURL is the address clients are told to reach us on.
func (c *Config) BaseURL() string {
	return "http://" + net.JoinHostPort(c.HostIP, strconv.Itoa(c.Port))
}

// ChannelsXMLPath is the absolute path of the default channel document.
func (c *Config) ChannelsXMLPath() string {
	return filepath.Join(c.DataDir, c.ChannelsXML)
}

func validDeviceID(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

// LoadEnvFile reads path and sets environment variables for each line "KEY=value".
// Skips empty lines and lines starting with #. Use for .env (keep .env out of git).
func LoadEnvFile(path string) error {
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		os.Setenv(key, unquoteEnv(value))
	}
	return sc.Err()
}

func unquoteEnv(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
