package shellyedge

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pat-rohn/timeseries"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	// EmbeddedBrokerPort starts a local broker when > 0.
	EmbeddedBrokerPort int
}

// Devices, Sun and Sinks are decoded by LoadConfig itself, environment
// values for them are comma separated lists and "true" strings.
type Config struct {
	Devices            []string `mapstructure:"-"`
	Interval           time.Duration
	FetchTimeout       time.Duration
	MaxParallelFetches int
	Sun                SunConfig `mapstructure:"-"`
	Sinks              []string  `mapstructure:"-"`
	TimeseriesDBConfig timeseries.DBConfig
	PointDBConfig      timeseries.DBConfig
	MQTT               MQTTConfig
	StatusPort         int
	LogFile            string
}

type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Msg)
}

func (c Config) SamplerConfig() SamplerConfig {
	return SamplerConfig{
		Devices:            c.Devices,
		Interval:           c.Interval,
		MaxParallelFetches: c.MaxParallelFetches,
		Sun:                c.Sun,
	}
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("Devices", []string{})
	v.SetDefault("Interval", DefaultInterval)
	v.SetDefault("FetchTimeout", DefaultFetchTimeout)
	v.SetDefault("MaxParallelFetches", DefaultMaxParallelFetches)

	v.SetDefault("Sun.Track", false)
	v.SetDefault("Sun.Latitude", 0.0)
	v.SetDefault("Sun.Longitude", 0.0)
	v.SetDefault("Sun.PerDevice", false)

	v.SetDefault("Sinks", []string{SinkTimeseries})

	v.SetDefault("TimeseriesDBConfig.Name", "timeseries.db")
	v.SetDefault("TimeseriesDBConfig.IPOrPath", "./")
	v.SetDefault("TimeseriesDBConfig.UsePostgres", false)
	v.SetDefault("TimeseriesDBConfig.User", "")
	v.SetDefault("TimeseriesDBConfig.Password", "")
	v.SetDefault("TimeseriesDBConfig.Port", 5432)
	v.SetDefault("TimeseriesDBConfig.TableName", "timeseries")

	v.SetDefault("PointDBConfig.Name", "points.db")
	v.SetDefault("PointDBConfig.IPOrPath", "./")
	v.SetDefault("PointDBConfig.UsePostgres", false)
	v.SetDefault("PointDBConfig.User", "")
	v.SetDefault("PointDBConfig.Password", "")
	v.SetDefault("PointDBConfig.Port", 5432)
	v.SetDefault("PointDBConfig.TableName", "points")

	v.SetDefault("MQTT.Broker", "")
	v.SetDefault("MQTT.Topic", DefaultMQTTTopic)
	v.SetDefault("MQTT.ClientID", "shellyedge")
	v.SetDefault("MQTT.EmbeddedBrokerPort", 0)

	v.SetDefault("StatusPort", 0)
	v.SetDefault("LogFile", "")
}

// bindEnv maps the legacy environment names and
// SHELLYEDGE_<KEY> variables onto config keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"Devices":                     {"SHELLY_IPS", "SHELLYEDGE_DEVICES"},
		"Sun.Track":                   {"TRACK_SUN", "SHELLYEDGE_TRACK_SUN"},
		"Sun.Latitude":                {"LAT", "SHELLYEDGE_LAT"},
		"Sun.Longitude":               {"LONG", "SHELLYEDGE_LONG"},
		"Sun.PerDevice":               {"SHELLYEDGE_SUN_PER_DEVICE"},
		"Sinks":                       {"SHELLYEDGE_SINKS"},
		"Interval":                    {"SHELLYEDGE_INTERVAL"},
		"FetchTimeout":                {"SHELLYEDGE_FETCH_TIMEOUT"},
		"TimeseriesDBConfig.IPOrPath": {"INFLUX_HOST", "SHELLYEDGE_DB_HOST"},
		"TimeseriesDBConfig.Name":     {"INFLUX_DB", "SHELLYEDGE_DB_NAME"},
		"TimeseriesDBConfig.User":     {"INFLUX_USERNAME", "SHELLYEDGE_DB_USER"},
		"TimeseriesDBConfig.Password": {"INFLUX_PASSWORD", "SHELLYEDGE_DB_PASSWORD"},
		"MQTT.Broker":                 {"SHELLYEDGE_MQTT_BROKER"},
		"StatusPort":                  {"SHELLYEDGE_STATUS_PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return errors.Wrapf(err, "binding env for %s", key)
		}
	}
	return nil
}

// DefaultConfigPaths are ~/.shellyedge and the working directory.
func DefaultConfigPaths() []string {
	var paths []string
	if dirname, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(dirname, ".shellyedge"))
	}
	return append(paths, ".")
}

// LoadConfig reads shellyedge.json from the first of configPaths that has
// one, applies the environment and validates the result.
func LoadConfig(v *viper.Viper, configPaths ...string) (Config, error) {
	logFields := log.Fields{"fnct": "LoadConfig"}
	SetDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}
	v.SetConfigName("shellyedge")
	v.SetConfigType("json")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if len(configPaths) > 0 {
		log.WithFields(logFields).Infoln("Read Config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.WithFields(logFields).Warnf("no config file found: %v", err)
			} else {
				return Config{}, errors.Wrap(err, "loading config failed")
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return Config{}, errors.Wrap(err, "decoding config failed")
	}

	var err error
	conf.Devices = NormalizeDevices(toList(v.Get("Devices")))
	conf.Sinks = toList(v.Get("Sinks"))
	if conf.Sun.Track, err = toBool(v.Get("Sun.Track")); err != nil {
		return Config{}, &ConfigError{Key: "Sun.Track", Msg: err.Error()}
	}
	if conf.Sun.Latitude, err = toFloat32(v.Get("Sun.Latitude")); err != nil {
		return Config{}, &ConfigError{Key: "Sun.Latitude", Msg: err.Error()}
	}
	if conf.Sun.Longitude, err = toFloat32(v.Get("Sun.Longitude")); err != nil {
		return Config{}, &ConfigError{Key: "Sun.Longitude", Msg: err.Error()}
	}
	if conf.Sun.PerDevice, err = toBool(v.Get("Sun.PerDevice")); err != nil {
		return Config{}, &ConfigError{Key: "Sun.PerDevice", Msg: err.Error()}
	}
	if !conf.Sun.Track {
		conf.Sun.Latitude = 0
		conf.Sun.Longitude = 0
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	log.WithFields(logFields).Tracef("Config %+v", conf)
	return conf, nil
}

func (c Config) Validate() error {
	if len(c.Devices) == 0 {
		return &ConfigError{Key: "Devices",
			Msg: "no Shelly devices configured, set SHELLY_IPS to a comma separated list of addresses"}
	}
	if len(c.Sinks) == 0 {
		return &ConfigError{Key: "Sinks", Msg: "no sink configured"}
	}
	for _, sink := range c.Sinks {
		switch sink {
		case SinkTimeseries:
			if err := validateDBConfig("TimeseriesDBConfig", c.TimeseriesDBConfig); err != nil {
				return err
			}
		case SinkSQL:
			if err := validateDBConfig("PointDBConfig", c.PointDBConfig); err != nil {
				return err
			}
		case SinkMQTT:
			if c.MQTT.Broker == "" && c.MQTT.EmbeddedBrokerPort <= 0 {
				return &ConfigError{Key: "MQTT.Broker", Msg: "missing broker address"}
			}
		default:
			return &ConfigError{Key: "Sinks", Msg: fmt.Sprintf("unknown sink %q", sink)}
		}
	}
	return nil
}

func validateDBConfig(key string, conf timeseries.DBConfig) error {
	if conf.Name == "" {
		return &ConfigError{Key: key + ".Name", Msg: "missing database name"}
	}
	if conf.UsePostgres {
		if conf.IPOrPath == "" {
			return &ConfigError{Key: key + ".IPOrPath", Msg: "missing database host"}
		}
		if conf.User == "" {
			return &ConfigError{Key: key + ".User", Msg: "missing database user"}
		}
	}
	return nil
}

// NormalizeDevices trims entries, drops empty ones, prepends http:// where
// no scheme is given and strips trailing slashes.
func NormalizeDevices(devices []string) []string {
	var normalized []string
	for _, d := range devices {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !strings.Contains(d, "://") {
			d = "http://" + d
		}
		normalized = append(normalized, strings.TrimRight(d, "/"))
	}
	return normalized
}

func toList(raw interface{}) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []interface{}:
		for _, item := range val {
			items = append(items, fmt.Sprintf("%v", item))
		}
	default:
		items = []string{fmt.Sprintf("%v", val)}
	}
	var list []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func toBool(raw interface{}) (bool, error) {
	switch val := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	case string:
		// anything but "true" disables tracking
		return strings.EqualFold(strings.TrimSpace(val), "true"), nil
	}
	return false, fmt.Errorf("not a boolean: %v", raw)
}

func toFloat32(raw interface{}) (float32, error) {
	switch val := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return float32(val), nil
	case float32:
		return val, nil
	case int:
		return float32(val), nil
	case int64:
		return float32(val), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 32)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", val)
		}
		return float32(f), nil
	}
	return 0, fmt.Errorf("not a number: %v", raw)
}
