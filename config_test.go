package shellyedge

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func TestLoadConfigFromLegacyEnv(t *testing.T) {
	t.Setenv("SHELLY_IPS", "192.168.1.20, 192.168.1.21/ ,,")
	t.Setenv("TRACK_SUN", "TrUe")
	t.Setenv("LAT", "47.37")
	t.Setenv("LONG", "8.54")
	t.Setenv("INFLUX_DB", "energy")
	t.Setenv("INFLUX_HOST", t.TempDir())

	conf, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"http://192.168.1.20", "http://192.168.1.21"}
	if !reflect.DeepEqual(conf.Devices, want) {
		t.Errorf("devices %v, want %v", conf.Devices, want)
	}
	if !conf.Sun.Track || conf.Sun.Latitude != 47.37 || conf.Sun.Longitude != 8.54 {
		t.Errorf("sun %+v", conf.Sun)
	}
	if conf.TimeseriesDBConfig.Name != "energy" {
		t.Errorf("db name %q", conf.TimeseriesDBConfig.Name)
	}
	if conf.Interval != DefaultInterval || conf.FetchTimeout != DefaultFetchTimeout {
		t.Errorf("interval %v, timeout %v", conf.Interval, conf.FetchTimeout)
	}
	if !reflect.DeepEqual(conf.Sinks, []string{SinkTimeseries}) {
		t.Errorf("sinks %v", conf.Sinks)
	}
}

func TestLoadConfigSunDisabled(t *testing.T) {
	t.Setenv("SHELLY_IPS", "10.0.0.1")
	t.Setenv("TRACK_SUN", "yes")
	t.Setenv("LAT", "47.37")
	conf, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if conf.Sun.Track || conf.Sun.Latitude != 0 {
		t.Errorf("sun %+v", conf.Sun)
	}
}

func TestLoadConfigNoDevices(t *testing.T) {
	t.Setenv("SHELLY_IPS", " , ")
	_, err := LoadConfig(viper.New())
	var confErr *ConfigError
	if !errors.As(err, &confErr) || confErr.Key != "Devices" {
		t.Fatalf("got %v, want devices config error", err)
	}
}

func TestLoadConfigBadLatitude(t *testing.T) {
	t.Setenv("SHELLY_IPS", "10.0.0.1")
	t.Setenv("TRACK_SUN", "true")
	t.Setenv("LAT", "north")
	_, err := LoadConfig(viper.New())
	var confErr *ConfigError
	if !errors.As(err, &confErr) || confErr.Key != "Sun.Latitude" {
		t.Fatalf("got %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `{
	"Devices": ["10.0.0.5", "http://10.0.0.6/"],
	"Interval": "30s",
	"MaxParallelFetches": 8,
	"Sun": {"Track": true, "Latitude": 46.5, "Longitude": 7.25, "PerDevice": true},
	"Sinks": ["sql", "mqtt"],
	"PointDBConfig": {"Name": "edge.db", "IPOrPath": "` + filepath.ToSlash(dir) + `"},
	"MQTT": {"EmbeddedBrokerPort": 1883, "Topic": "home"},
	"StatusPort": 8080
}`
	if err := os.WriteFile(filepath.Join(dir, "shellyedge.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	conf, err := LoadConfig(viper.New(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(conf.Devices, []string{"http://10.0.0.5", "http://10.0.0.6"}) {
		t.Errorf("devices %v", conf.Devices)
	}
	if conf.Interval != 30*time.Second || conf.MaxParallelFetches != 8 {
		t.Errorf("interval %v, parallel %d", conf.Interval, conf.MaxParallelFetches)
	}
	if conf.Sun != (SunConfig{Track: true, Latitude: 46.5, Longitude: 7.25, PerDevice: true}) {
		t.Errorf("sun %+v", conf.Sun)
	}
	if !reflect.DeepEqual(conf.Sinks, []string{SinkSQL, SinkMQTT}) {
		t.Errorf("sinks %v", conf.Sinks)
	}
	if conf.PointDBConfig.Name != "edge.db" || conf.MQTT.Topic != "home" || conf.MQTT.EmbeddedBrokerPort != 1883 {
		t.Errorf("config %+v", conf)
	}
	if conf.StatusPort != 8080 {
		t.Errorf("status port %d", conf.StatusPort)
	}
	sampler := conf.SamplerConfig()
	if len(sampler.Devices) != 2 || sampler.Interval != 30*time.Second {
		t.Errorf("sampler config %+v", sampler)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("SHELLY_IPS", "10.0.0.1")
	if _, err := LoadConfig(viper.New(), t.TempDir()); err != nil {
		t.Fatalf("missing file should fall back to env: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Devices: []string{"http://10.0.0.1"},
			Sinks:   []string{SinkTimeseries},
		}
	}
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantKey string
	}{
		{"valid", func(c *Config) { c.TimeseriesDBConfig.Name = "ts.db" }, ""},
		{"no devices", func(c *Config) { c.Devices = nil }, "Devices"},
		{"no sinks", func(c *Config) { c.Sinks = nil }, "Sinks"},
		{"unknown sink", func(c *Config) { c.Sinks = []string{"influx"} }, "Sinks"},
		{"timeseries without name", func(c *Config) {}, "TimeseriesDBConfig.Name"},
		{"postgres without user", func(c *Config) {
			c.TimeseriesDBConfig.Name = "ts"
			c.TimeseriesDBConfig.UsePostgres = true
			c.TimeseriesDBConfig.IPOrPath = "db.local"
		}, "TimeseriesDBConfig.User"},
		{"sql without name", func(c *Config) { c.Sinks = []string{SinkSQL} }, "PointDBConfig.Name"},
		{"mqtt without broker", func(c *Config) { c.Sinks = []string{SinkMQTT} }, "MQTT.Broker"},
		{"mqtt with embedded broker", func(c *Config) {
			c.Sinks = []string{SinkMQTT}
			c.MQTT.EmbeddedBrokerPort = 1883
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := base()
			tt.modify(&conf)
			err := conf.Validate()
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var confErr *ConfigError
			if !errors.As(err, &confErr) || confErr.Key != tt.wantKey {
				t.Fatalf("got %v, want error for %s", err, tt.wantKey)
			}
		})
	}
}

func TestNormalizeDevices(t *testing.T) {
	got := NormalizeDevices([]string{" 10.0.0.1 ", "", "https://plug.local/", "10.0.0.2:8081//"})
	want := []string{"http://10.0.0.1", "https://plug.local", "http://10.0.0.2:8081"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if NormalizeDevices([]string{" ", ""}) != nil {
		t.Errorf("expected no devices")
	}
}
