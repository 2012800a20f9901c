package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Assignment modes.
const (
	ModeStatic  = "static"
	ModeDynamic = "dynamic"
)

// Allocation policies for dynamic mode.
const (
	PolicyFirst = "first"
	PolicyEven  = "even"
)

// Worker availability sources.
const (
	AvailabilityPrompt = "prompt"
	AvailabilityYes    = "yes"
	AvailabilityNo     = "no"
)

// EnvPrefix is prepended to every environment variable read by viper.
const EnvPrefix = "DISTDETECT"

type Config struct {
	Mode                string
	ListenAddress       string
	CoordinatorAddress  string
	ExpectedWorkers     int
	AcceptWindow        time.Duration // 0 waits for every expected worker
	IOTimeout           time.Duration
	AvailabilityTimeout time.Duration
	ResultTimeout       time.Duration
	MaxSessions         int
	Policy              string
	FramedReplies       bool

	ImagePath       string
	OutputDirectory string
	DatabasePath    string
	LogDirectory    string
	LogLevel        string
	HTTPPort        int // 0 disables the status API

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	ModelPath   string
	ConfigPath  string
	Confidence  float64
	WorkerClass int
	// Availability decides how a dynamic worker answers the probe.
	Availability string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeStatic)
	v.SetDefault("listen", "0.0.0.0:8095")
	v.SetDefault("coordinator", "127.0.0.1:8095")
	v.SetDefault("expected_workers", 4)
	v.SetDefault("accept_window", "0s")
	v.SetDefault("io_timeout", "30s")
	v.SetDefault("availability_timeout", "2m")
	v.SetDefault("result_timeout", "5m")
	v.SetDefault("max_sessions", 16)
	v.SetDefault("policy", PolicyFirst)
	v.SetDefault("framed_replies", false)

	v.SetDefault("image", "image.jpg")
	v.SetDefault("output_dir", filepath.Join(".", "output"))
	v.SetDefault("db_path", filepath.Join(".", "data", "runs.db"))
	v.SetDefault("log_dir", filepath.Join(".", "logs"))
	v.SetDefault("log_level", "info")
	v.SetDefault("http.port", 0)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "distdetect")
	v.SetDefault("mqtt.client_id", "distdetect-coordinator")

	v.SetDefault("model.path", filepath.Join(".", "models", "frozen_inference_graph.pb"))
	v.SetDefault("model.config", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"))
	v.SetDefault("model.confidence", 0.5)
	v.SetDefault("worker.class", 0)
	v.SetDefault("worker.availability", AvailabilityPrompt)
}

// BindEnv configures v to read DISTDETECT_* environment variables, with dots
// in nested keys replaced by underscores (DISTDETECT_MQTT_BROKER).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ConfigName is the base name searched for when no config file is given.
const ConfigName = "distdetect"

// ReadConfigFile reads the config file named by explicit or, when it is
// empty, searches dirs for distdetect.yaml. Only a missing file that was
// searched for is not an error.
func ReadConfigFile(v *viper.Viper, explicit string, dirs ...string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if explicit == "" && errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds and validates a Config from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Mode:                strings.ToLower(v.GetString("mode")),
		ListenAddress:       v.GetString("listen"),
		CoordinatorAddress:  v.GetString("coordinator"),
		ExpectedWorkers:     v.GetInt("expected_workers"),
		AcceptWindow:        v.GetDuration("accept_window"),
		IOTimeout:           v.GetDuration("io_timeout"),
		AvailabilityTimeout: v.GetDuration("availability_timeout"),
		ResultTimeout:       v.GetDuration("result_timeout"),
		MaxSessions:         v.GetInt("max_sessions"),
		Policy:              strings.ToLower(v.GetString("policy")),
		FramedReplies:       v.GetBool("framed_replies"),

		ImagePath:       v.GetString("image"),
		OutputDirectory: v.GetString("output_dir"),
		DatabasePath:    v.GetString("db_path"),
		LogDirectory:    v.GetString("log_dir"),
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetInt("http.port"),

		MQTTBroker:   v.GetString("mqtt.broker"),
		MQTTTopic:    v.GetString("mqtt.topic"),
		MQTTClientID: v.GetString("mqtt.client_id"),

		ModelPath:    v.GetString("model.path"),
		ConfigPath:   v.GetString("model.config"),
		Confidence:   v.GetFloat64("model.confidence"),
		WorkerClass:  v.GetInt("worker.class"),
		Availability: strings.ToLower(v.GetString("worker.availability")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
