// Package config implements the device's TOML application configuration:
// one Config struct with nested tables, loaded/saved the way the teacher's
// internal/config loads and saves its split config file, adapted here to
// a single file since this configuration carries no secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigDir is the system-wide config directory.
const DefaultConfigDir = "/etc/lonctl"

// Config is the top-level device configuration, persisted as a TOML file
// at DefaultConfigPath().
type Config struct {
	Link LinkConfig `toml:"link"`
	ISI  ISIConfig  `toml:"isi"`
	LSIP LSIPConfig `toml:"lsip"`
	Xcvr XcvrConfig `toml:"transceiver"`
}

// LinkConfig names the physical interface the link driver (C1) opens.
type LinkConfig struct {
	// InterfaceName is the name passed to link.Link.Open (e.g. "mip0").
	InterfaceName string `toml:"interface_name"`
}

// ISIConfig carries the ISI (Interoperable Self-Installation) behavior
// flags from §6's "Configuration options recognized" table.
type ISIConfig struct {
	// FlagExtended enables extended DRUM/CSMO messages.
	FlagExtended bool `toml:"flag_extended"`

	// FlagHeartbeat enables periodic NV heartbeats.
	FlagHeartbeat bool `toml:"flag_heartbeat"`

	// ControlledEnrollment enables ISI controlled enrollment.
	ControlledEnrollment bool `toml:"controlled_enrollment"`

	// FlagDisableAddrMgmt forces a randomly-allocated primary address
	// instead of the derived one.
	FlagDisableAddrMgmt bool `toml:"flag_disable_addr_mgmt"`
}

// LSIPConfig holds the LS/IP address-map and socket-map timing defaults
// (§4.3, §4.4, §5).
type LSIPConfig struct {
	// RetryBinding enables socket-bind retry
	// (LONLINK_IZOT_MGMNT_OPTION_RETRY_BINDING).
	RetryBinding bool `toml:"retry_binding"`

	// AnnounceFreq is the announcement timer's period.
	AnnounceFreq Duration `toml:"announce_freq"`

	// AnnounceThrottle is the minimum spacing between two announcements
	// within one announcement sweep.
	AnnounceThrottle Duration `toml:"announce_throttle"`

	// AgeLimit is the age, in aging ticks without a refreshing
	// announcement, at which an arbitrary address mapping is discarded
	// (lsip.DefaultAgeLimit when zero).
	AgeLimit int `toml:"age_limit"`
}

// XcvrConfig points at the optional external transceiver-ID override
// file; its format (XML) is out of scope, only the path is carried here.
type XcvrConfig struct {
	// OverridePath, when non-empty, names an XML file overriding or
	// extending the standard transceiver-ID table (§6). XML wins over the
	// standard table for any XID it defines.
	OverridePath string `toml:"override_path,omitempty"`
}

// Duration wraps time.Duration with text (de)serialization, so TOML can
// carry it as a duration string such as "5m" or "250ms".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultAnnounceFreq and DefaultAnnounceThrottle seed a fresh Config
// before any TOML overrides are applied.
const (
	DefaultAnnounceFreq     = Duration(5 * time.Minute)
	DefaultAnnounceThrottle = Duration(500 * time.Millisecond)
)

// DefaultConfig returns a Config populated with sensible defaults. Device-
// specific fields (link interface name, transceiver override path) are
// left empty and must be filled in by the deployment.
func DefaultConfig() *Config {
	return &Config{
		LSIP: LSIPConfig{
			AnnounceFreq:     DefaultAnnounceFreq,
			AnnounceThrottle: DefaultAnnounceThrottle,
		},
	}
}

// DefaultConfigPath returns the default path for the device config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir, "config.toml")
}

// LoadConfig reads and parses path, applying defaults for any field left
// zero after decoding.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// SaveConfig writes cfg as TOML to path, creating the parent directory
// (mode 0755) if needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ParseTOML decodes a TOML config from a string.
func ParseTOML(s string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(s, cfg); err != nil {
		return nil, fmt.Errorf("decoding TOML config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in default values for optional fields left
// zero-valued after TOML decoding.
func applyDefaults(cfg *Config) {
	if cfg.LSIP.AnnounceFreq == 0 {
		cfg.LSIP.AnnounceFreq = DefaultAnnounceFreq
	}
	if cfg.LSIP.AnnounceThrottle == 0 {
		cfg.LSIP.AnnounceThrottle = DefaultAnnounceThrottle
	}
}
