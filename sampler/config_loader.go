package sampler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration file
type Config struct {
	MQTT         MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Topics       TopicConfig   `yaml:"topics" json:"topics"`
	Frames       FrameConfig   `yaml:"frames" json:"frames"`
	Sampler      SamplerConfig `yaml:"sampler" json:"sampler"`
	SensorOffset *Pose2D       `yaml:"sensorOffset,omitempty" json:"sensorOffset,omitempty"` // static base→laser transform
	// TransformTimeout bounds the startup wait for the sensor offset
	TransformTimeout time.Duration `yaml:"transformTimeout" json:"transformTimeout"`
	WatchdogInterval time.Duration `yaml:"watchdogInterval" json:"watchdogInterval"`
	FeatureCache     string        `yaml:"featureCache,omitempty" json:"featureCache,omitempty"`
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// TopicConfig names the subscribed and published topics
type TopicConfig struct {
	Map            string `yaml:"map" json:"map"`
	Scan           string `yaml:"scan" json:"scan"`
	Odom           string `yaml:"odom" json:"odom"`
	Transform      string `yaml:"transform" json:"transform"`
	Poses          string `yaml:"poses" json:"poses"`
	LocalMap       string `yaml:"localMap" json:"localMap"`
	Keypoints      string `yaml:"keypoints" json:"keypoints"`
	LocalKeypoints string `yaml:"localKeypoints" json:"localKeypoints"`
}

// FrameConfig names the coordinate frames
type FrameConfig struct {
	Map   string `yaml:"map" json:"map"`
	Odom  string `yaml:"odom" json:"odom"`
	Base  string `yaml:"base" json:"base"`
	Laser string `yaml:"laser" json:"laser"`
}

// DefaultSamplerConfig returns the pipeline defaults
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		KeyframeConfig: KeyframeConfig{
			KeyScansNum:         5,
			KeyScanIntervalDist: 0.5,
			KeyScanIntervalYaw:  5.0,
			MinValidScanRatio:   0.1,
		},
		KeypointConfig: KeypointConfig{
			GradientSquareTH: 1e-3,
			MinDistFromMap:   1.0,
		},
		MatchConfig: MatchConfig{
			AverageDistanceDeltaTH: 1.0,
		},
		HypothesisConfig: HypothesisConfig{
			AddRandomSamples:      true,
			AddOppositeSamples:    true,
			RandomSamplesNum:      10,
			PositionalRandomNoise: 0.5,
			AngularRandomNoise:    0.3,
			MatchingRateTH:        0.1,
		},
		FeatureWindowSize:  1.0,
		Blur:               BlurConfig{KernelSize: 5, Sigma: 5},
		LocalMapResolution: 0.05,
		RandomSeed:         time.Now().UnixNano(),
	}
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{PublishPrefix: "glsampler", ClientID: "glsampler"},
		Topics: TopicConfig{
			Map:            "/map",
			Scan:           "/scan",
			Odom:           "/odom",
			Transform:      "/tf_static",
			Poses:          "/gl_sampled_poses",
			LocalMap:       "/gl_local_map",
			Keypoints:      "/gl_sdf_keypoints",
			LocalKeypoints: "/gl_local_sdf_keypoints",
		},
		Frames:           FrameConfig{Map: "map", Odom: "odom", Base: "base_link", Laser: "base_laser"},
		Sampler:          DefaultSamplerConfig(),
		TransformTimeout: 60 * time.Second,
		WatchdogInterval: 300 * time.Second,
	}
}

// LoadConfig loads the service configuration from a YAML file and
// validates it. Keys missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig parses a YAML file over the defaults and checks only the
// pipeline parameters. Offline tools use it; they need no broker.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Sampler.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields the service cannot run without
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Topics.Map == "" || c.Topics.Scan == "" || c.Topics.Odom == "" {
		return fmt.Errorf("topics.map, topics.scan and topics.odom are required")
	}
	return c.Sampler.Validate()
}

// Validate checks the pipeline parameters
func (s SamplerConfig) Validate() error {
	if s.KeyScansNum < 1 {
		return fmt.Errorf("sampler.keyScansNum must be positive, got %d", s.KeyScansNum)
	}
	if s.FeatureWindowSize <= 0 {
		return fmt.Errorf("sampler.sdfFeatureWindowSize must be positive, got %v", s.FeatureWindowSize)
	}
	if s.LocalMapResolution <= 0 {
		return fmt.Errorf("sampler.localMapResolution must be positive, got %v", s.LocalMapResolution)
	}
	if s.AddRandomSamples && s.RandomSamplesNum < 1 {
		return fmt.Errorf("sampler.randomSamplesNum must be positive when addRandomSamples is set")
	}
	if s.MinValidScanRatio < 0 || s.MinValidScanRatio > 1 {
		return fmt.Errorf("sampler.minValidScanRatio must be within [0, 1], got %v", s.MinValidScanRatio)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
