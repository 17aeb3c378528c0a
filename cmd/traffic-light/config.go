package main

import (
	"time"

	"github.com/kovetskiy/ko"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/pkg/log"
	"github.com/reconquest/traffic-light/internal/cycler"
	"gopkg.in/yaml.v3"
)

const DEFAULT_CONFIG_PATH = "/etc/traffic-light/traffic-light.conf"

type Config struct {
	ListenAddress string `yaml:"listen_address" env:"TRAFFIC_LISTEN_ADDRESS" default:":8586"`

	Log struct {
		Debug bool `yaml:"debug" env:"TRAFFIC_LOG_DEBUG"`
		Trace bool `yaml:"trace" env:"TRAFFIC_LOG_TRACE"`
	} `yaml:"log"`

	Lights  int  `yaml:"lights"  env:"TRAFFIC_LIGHTS"           default:"1" required:"true"`
	Waiters int  `yaml:"waiters" env:"TRAFFIC_WAITERS"          default:"1"`
	Audit   bool `yaml:"audit"   env:"TRAFFIC_AUDIT_GOROUTINES"`

	Cycle struct {
		Min   time.Duration `yaml:"min"   env:"TRAFFIC_CYCLE_MIN"   default:"4s"`
		Max   time.Duration `yaml:"max"   env:"TRAFFIC_CYCLE_MAX"   default:"6s"`
		Tick  time.Duration `yaml:"tick"  env:"TRAFFIC_CYCLE_TICK"  default:"1ms"`
		Fixed bool          `yaml:"fixed" env:"TRAFFIC_CYCLE_FIXED"`
	} `yaml:"cycle"`
}

func (config *Config) CycleOptions() cycler.Options {
	return cycler.Options{
		Min:   config.Cycle.Min,
		Max:   config.Cycle.Max,
		Tick:  config.Cycle.Tick,
		Fixed: config.Cycle.Fixed,
	}
}

func LoadConfig(path string, requireFile bool) (*Config, error) {
	log.Infof(karma.Describe("path", path), "loading configuration")

	var config Config
	err := ko.Load(path, &config, yaml.Unmarshal, ko.RequireFile(requireFile))
	if err != nil {
		return nil, err
	}

	err = config.validate()
	if err != nil {
		return nil, karma.Describe("path", path).Format(err, "invalid configuration")
	}

	return &config, nil
}

func (config *Config) validate() error {
	if config.Lights < 1 {
		return karma.Format(nil, "lights must be positive, got %d", config.Lights)
	}

	// nobody would drain the lights' channels
	if config.Waiters < 1 {
		return karma.Format(nil, "waiters must be positive, got %d", config.Waiters)
	}

	if config.Cycle.Min <= 0 {
		return karma.Format(nil, "cycle.min must be positive, got %s", config.Cycle.Min)
	}

	if config.Cycle.Max < config.Cycle.Min {
		return karma.Format(
			nil,
			"cycle.max (%s) must not be less than cycle.min (%s)",
			config.Cycle.Max, config.Cycle.Min,
		)
	}

	if config.Cycle.Tick <= 0 {
		return karma.Format(nil, "cycle.tick must be positive, got %s", config.Cycle.Tick)
	}

	if config.Cycle.Tick >= config.Cycle.Min {
		log.Warningf(
			nil,
			"cycle.tick (%s) is not shorter than cycle.min (%s), "+
				"phase changes will be late",
			config.Cycle.Tick, config.Cycle.Min,
		)
	}

	return nil
}
