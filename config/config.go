package config

import (
	"PersonDetServer/engine"
	iface "PersonDetServer/interface"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RPCPort       int    `yaml:"RPCPort"`
	HTTPPort      int    `yaml:"HTTPPort"`
	AdhocPort     int    `yaml:"AdhocPort"`
	WorkersNum    int    `yaml:"workersNum"`
	InstanceClass string `yaml:"instanceClass"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerPort int    `yaml:"RegServerPort"`
	RegServerHost string `yaml:"RegServerHost"`
	LogMode       string `yaml:"logMode"`
	LogLevel      string `yaml:"logLevel"`
	ModelsDir     string `yaml:"modelsDir"`
	StaticDir     string `yaml:"staticDir"`
	// SessionIdleMs releases websocket sessions that stop sending frames.
	SessionIdleMs int `yaml:"sessionIdleMs"`

	Engine iface.EngineConfig `yaml:"engine"`
	MQTT   MQTTConfig         `yaml:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"clientID"`
	TopicPrefix string `yaml:"topicPrefix"`
	QoS         byte   `yaml:"qos"`
}

func Default() Config {
	return Config{
		RPCPort:       50051,
		HTTPPort:      8080,
		AdhocPort:     50052,
		WorkersNum:    1,
		InstanceClass: "Cpu",
		RegServerPort: 8000,
		RegServerHost: "127.0.0.1",
		LogMode:       "production",
		LogLevel:      "info",
		ModelsDir:     "models",
		StaticDir:     "static",
		SessionIdleMs: 1000,
		Engine:        defaultEngine(),
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: "gadget",
		},
	}
}

func defaultEngine() iface.EngineConfig {
	cfg := engine.DefaultConfig()
	cfg.ModelPath = "models/person_detect.tflite"
	return cfg
}

// Load reads a yaml file over the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
	default:
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := loadEnvVariables(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadEnvVariables(cfg *Config) error {
	if v := os.Getenv("PERSONDET_MODEL_PATH"); v != "" {
		cfg.Engine.ModelPath = v
	}
	if v := os.Getenv("PERSONDET_LOG_MODE"); v != "" {
		cfg.LogMode = v
	}
	if v := os.Getenv("PERSONDET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PERSONDET_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("PERSONDET_REG_HOST"); v != "" {
		cfg.RegServerHost = v
	}
	if v := os.Getenv("PERSONDET_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return errors.Wrap(err, "PERSONDET_THRESHOLD")
		}
		cfg.Engine.Threshold = float32(f)
	}
	if v := os.Getenv("PERSONDET_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "PERSONDET_WORKERS")
		}
		cfg.WorkersNum = n
	}
	return nil
}

func (c *Config) Validate() error {
	for name, port := range map[string]int{"RPCPort": c.RPCPort, "HTTPPort": c.HTTPPort, "AdhocPort": c.AdhocPort} {
		if port <= 0 || port > 65535 {
			return errors.Errorf("%s %d out of range", name, port)
		}
	}
	if c.Engine.Threshold < 0 || c.Engine.Threshold > 1 {
		return errors.Errorf("threshold must be between 0.0 and 1.0, got %f", c.Engine.Threshold)
	}
	if c.Engine.PersonIndex < 0 {
		return errors.Errorf("personIndex must not be negative, got %d", c.Engine.PersonIndex)
	}
	if c.Engine.ArenaSize < 0 {
		return errors.Errorf("arenaSize must not be negative, got %d", c.Engine.ArenaSize)
	}
	if c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt enabled without a broker")
	}
	return nil
}

// ClampWorkers keeps WorkersNum at least one and reports whether it had to
// change it or whether the count exceeds cpus.
func (c *Config) ClampWorkers(cpus int) (clamped bool, oversubscribed bool) {
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
		return true, false
	}
	return false, c.WorkersNum > cpus
}
