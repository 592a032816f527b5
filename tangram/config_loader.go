package tangram

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig represents the full service configuration file
type ServiceConfig struct {
	MQTT     MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	HTTPPort int              `yaml:"httpPort,omitempty" json:"httpPort,omitempty"` // HTTP server port (default 8080)
	Puzzle   string           `yaml:"puzzle,omitempty" json:"puzzle,omitempty"`     // Path to a puzzle JSON file (empty = built-in cat)
	Source   SourceConfig     `yaml:"source,omitempty" json:"source,omitempty"`
	Engine   *EngineOverrides `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	FrameTopic    string `yaml:"frameTopic" json:"frameTopic"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// SourceConfig describes an optional HTTP frame source polled by the service
// when no MQTT broker is configured (or alongside one)
type SourceConfig struct {
	URL            string  `yaml:"url,omitempty" json:"url,omitempty"`
	PollIntervalMs int     `yaml:"pollIntervalMs,omitempty" json:"pollIntervalMs,omitempty"` // default 100ms
	TimeoutSec     float64 `yaml:"timeoutSec,omitempty" json:"timeoutSec,omitempty"`         // per-request timeout (default 2s)
}

// EngineOverrides carries optional per-deployment tuning knobs. Nil fields
// fall back to the defaults in DefaultEngineConfig.
type EngineOverrides struct {
	PositionTolerance    *float64 `yaml:"positionTolerance,omitempty" json:"positionTolerance,omitempty"`
	RotationToleranceDeg *float64 `yaml:"rotationToleranceDeg,omitempty" json:"rotationToleranceDeg,omitempty"`
	SettleVelocity       *float64 `yaml:"settleVelocity,omitempty" json:"settleVelocity,omitempty"`
	DwellSec             *float64 `yaml:"dwellSec,omitempty" json:"dwellSec,omitempty"`
	NudgeCooldownSec     *float64 `yaml:"nudgeCooldownSec,omitempty" json:"nudgeCooldownSec,omitempty"`
	NudgeMinAttempts     *int     `yaml:"nudgeMinAttempts,omitempty" json:"nudgeMinAttempts,omitempty"`
	GroupDist            *float64 `yaml:"groupDist,omitempty" json:"groupDist,omitempty"`
	TranslationWeight    *float64 `yaml:"translationWeight,omitempty" json:"translationWeight,omitempty"`
	RotationWeight       *float64 `yaml:"rotationWeight,omitempty" json:"rotationWeight,omitempty"`
}

// LoadServiceConfig loads the service configuration from a YAML file
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.MQTT.Broker != "" && config.MQTT.FrameTopic == "" {
		return nil, fmt.Errorf("mqtt.frameTopic is required when mqtt.broker is set")
	}
	if config.HTTPPort < 0 || config.HTTPPort > 65535 {
		return nil, fmt.Errorf("httpPort %d out of range", config.HTTPPort)
	}
	if config.Source.PollIntervalMs < 0 {
		return nil, fmt.Errorf("source.pollIntervalMs must be >= 0")
	}

	if config.Engine != nil {
		if err := validateOverrides(config.Engine); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// SaveServiceConfig saves the configuration to a YAML file
func SaveServiceConfig(path string, config *ServiceConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func validateOverrides(o *EngineOverrides) error {
	checks := []struct {
		name string
		val  *float64
	}{
		{"engine.positionTolerance", o.PositionTolerance},
		{"engine.rotationToleranceDeg", o.RotationToleranceDeg},
		{"engine.settleVelocity", o.SettleVelocity},
		{"engine.dwellSec", o.DwellSec},
		{"engine.nudgeCooldownSec", o.NudgeCooldownSec},
		{"engine.groupDist", o.GroupDist},
		{"engine.translationWeight", o.TranslationWeight},
		{"engine.rotationWeight", o.RotationWeight},
	}
	for _, c := range checks {
		if c.val != nil && *c.val < 0 {
			return fmt.Errorf("%s must be >= 0", c.name)
		}
	}
	if o.NudgeMinAttempts != nil && *o.NudgeMinAttempts < 0 {
		return fmt.Errorf("engine.nudgeMinAttempts must be >= 0")
	}
	return nil
}

// ApplyEngineOverrides merges per-deployment overrides onto a base engine
// config. Config file values take precedence over built-in defaults.
func ApplyEngineOverrides(base EngineConfig, o *EngineOverrides) EngineConfig {
	if o == nil {
		return base
	}
	if o.PositionTolerance != nil {
		base.Validation.PositionTolerance = *o.PositionTolerance
	}
	if o.RotationToleranceDeg != nil {
		base.Validation.RotationToleranceDeg = *o.RotationToleranceDeg
	}
	if o.SettleVelocity != nil {
		base.Validation.SettleVelocity = *o.SettleVelocity
	}
	if o.DwellSec != nil {
		base.Validation.DwellInterval = time.Duration(*o.DwellSec * float64(time.Second))
	}
	if o.NudgeCooldownSec != nil {
		base.Nudge.Cooldown = time.Duration(*o.NudgeCooldownSec * float64(time.Second))
	}
	if o.NudgeMinAttempts != nil {
		base.Nudge.MinAttempts = *o.NudgeMinAttempts
	}
	if o.GroupDist != nil {
		base.GroupDist = *o.GroupDist
	}
	if o.TranslationWeight != nil {
		base.Mapping.TranslationWeight = *o.TranslationWeight
	}
	if o.RotationWeight != nil {
		base.Mapping.RotationWeight = *o.RotationWeight
	}
	return base
}

// PollInterval returns the configured poll interval or the 100ms default.
func (s SourceConfig) PollInterval() time.Duration {
	if s.PollIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// Timeout returns the per-request timeout or the 2s default.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.TimeoutSec * float64(time.Second))
}
