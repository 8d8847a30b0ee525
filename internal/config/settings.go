package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"fleet-monitor/geotrack/internal/domain"
)

const (
	DefaultOverspeedWindow = 5 * time.Second
	DefaultZoneWindow      = 30 * time.Second
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the read-only evaluation snapshot a session runs with. Pointer
// fields are nil when unset; unset thresholds mean "no limit".
type Settings struct {
	SaveGPS       bool `yaml:"save_gps"`
	SaveEveryMins int  `yaml:"save_every_mins"`

	EnableGeofences     bool     `yaml:"enable_geofences"`
	EnableQualityFilter bool     `yaml:"enable_quality_filter"`
	MaxAccuracy         *float64 `yaml:"max_accuracy,omitempty"`

	SpeedLimit           *float64 `yaml:"speed_limit,omitempty"`
	PreLimit             *float64 `yaml:"pre_limit,omitempty"`
	GlobalLimitInclusive bool     `yaml:"global_limit_inclusive"`
	ZoneLimitInclusive   *bool    `yaml:"zone_limit_inclusive,omitempty"`

	ActivityFilter bool  `yaml:"activity_filter"`
	AutoClearAlert *bool `yaml:"auto_clear_alert,omitempty"`
	WarnUser       bool  `yaml:"warn_user"`

	OverspeedWindow time.Duration `yaml:"overspeed_window,omitempty"`
	ZoneWindow      time.Duration `yaml:"zone_window,omitempty"`

	Impossible []domain.ImpossibleSpeedRule `yaml:"impossible,omitempty"`
	Geofences  []domain.ZoneDefinition      `yaml:"geofences,omitempty"`

	Alert AlertTemplate `yaml:"alert,omitempty"`
	GPS   GPSRequest    `yaml:"gps,omitempty"`
}

type AlertTemplate struct {
	Title   string `yaml:"title,omitempty"`
	Message string `yaml:"message,omitempty"`
	Color   string `yaml:"color,omitempty"`
}

// GPSRequest is what the device is asked to deliver when a session starts.
type GPSRequest struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaximumAge            time.Duration `yaml:"maximum_age,omitempty"`
	HighAccuracy          *bool         `yaml:"high_accuracy,omitempty"`
	DistanceFilter        float64       `yaml:"distance_filter,omitempty"`
	UseSignificantChanges *bool         `yaml:"use_significant_changes,omitempty"`
}

func ptrBool(v bool) *bool { return &v }

// DefaultSettings returns the settings used when no file is provided.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.OverspeedWindow == 0 {
		s.OverspeedWindow = DefaultOverspeedWindow
	}
	if s.ZoneWindow == 0 {
		s.ZoneWindow = DefaultZoneWindow
	}
	if s.AutoClearAlert == nil {
		s.AutoClearAlert = ptrBool(true)
	}
	if s.ZoneLimitInclusive == nil {
		s.ZoneLimitInclusive = ptrBool(true)
	}
	if s.Alert.Title == "" {
		s.Alert.Title = "Speed limit exceeded"
	}
	if s.Alert.Message == "" {
		s.Alert.Message = "Reduce your speed"
	}
	if s.Alert.Color == "" {
		s.Alert.Color = "#d32f2f"
	}
	if s.GPS.Timeout == 0 {
		s.GPS.Timeout = 120 * time.Second
	}
	if s.GPS.MaximumAge == 0 {
		s.GPS.MaximumAge = 120 * time.Second
	}
	if s.GPS.HighAccuracy == nil {
		s.GPS.HighAccuracy = ptrBool(true)
	}
	if s.GPS.DistanceFilter == 0 {
		s.GPS.DistanceFilter = 5
	}
	if s.GPS.UseSignificantChanges == nil {
		s.GPS.UseSignificantChanges = ptrBool(true)
	}
}

// LoadSettings reads a YAML settings file. Omitted fields take their defaults.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

func ParseSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks structural problems only. Unparseable zone boundaries are not
// an error here; they are skipped when the geometry cache is built.
func (s *Settings) Validate() error {
	if s.OverspeedWindow < 0 || s.ZoneWindow < 0 {
		return fmt.Errorf("%w: window periods must be positive", ErrInvalidSettings)
	}
	if s.SaveEveryMins < 0 {
		return fmt.Errorf("%w: save_every_mins must not be negative", ErrInvalidSettings)
	}
	seen := make(map[string]bool, len(s.Geofences))
	for i, z := range s.Geofences {
		if z.Name == "" {
			return fmt.Errorf("%w: geofence %d has no name", ErrInvalidSettings, i)
		}
		if seen[z.Name] {
			return fmt.Errorf("%w: duplicate geofence name %q", ErrInvalidSettings, z.Name)
		}
		seen[z.Name] = true
		if !z.Kind.Valid() {
			return fmt.Errorf("%w: geofence %q has unknown kind %q", ErrInvalidSettings, z.Name, z.Kind)
		}
	}
	for i, r := range s.Impossible {
		if r.MaxSpeed < 0 {
			return fmt.Errorf("%w: impossible rule %d has negative max_speed", ErrInvalidSettings, i)
		}
	}
	return nil
}

// Zones returns the configured zones, or none when geofencing is disabled.
func (s *Settings) Zones() []domain.ZoneDefinition {
	if !s.EnableGeofences {
		return nil
	}
	return s.Geofences
}

func (s *Settings) GlobalLimit() float64 { return domain.Limit(s.SpeedLimit) }

func (s *Settings) GlobalPreLimit() float64 { return domain.Limit(s.PreLimit) }

// AccuracyLimit returns the maximum accepted accuracy; 0 or unset means no limit.
func (s *Settings) AccuracyLimit() float64 { return domain.Limit(s.MaxAccuracy) }

func (s *Settings) AutoClear() bool {
	return s.AutoClearAlert == nil || *s.AutoClearAlert
}

func (s *Settings) ZoneInclusive() bool {
	return s.ZoneLimitInclusive == nil || *s.ZoneLimitInclusive
}

// ArchiveInterval is the minimum spacing between archived samples; 0 archives
// every accepted sample.
func (s *Settings) ArchiveInterval() time.Duration {
	return time.Duration(s.SaveEveryMins) * time.Minute
}
