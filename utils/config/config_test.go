package config

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestDefaults(t *testing.T) {
	rc, err := NewRuntimeConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, time.Second, rc.TickInterval)
	assert.Equal(t, 0.85, rc.ConfidenceThreshold)
	assert.Equal(t, 15*time.Second, rc.LeadTime)
	assert.Equal(t, 10*time.Second, rc.PassTime)
	assert.Equal(t, 30*time.Minute, rc.RouteTimeout)
	assert.Equal(t, PolicyEarliestArrival, rc.PriorityPolicy)
	assert.Equal(t, 45*time.Second, rc.Red)
	assert.Equal(t, "traffic_signals", rc.All.Input.Signals)
	assert.Equal(t, "corridor/detections", rc.All.MQTT.DetectionTopic)
	assert.Equal(t, ":8080", rc.All.Server.Listen)
	assert.Equal(t, DefaultMemoryLimit, rc.All.Output.MemoryLimit)
}

func TestParseYAML(t *testing.T) {
	data := `
input:
  file: data/network.yaml
control:
  tick_interval: 0.5
corridor:
  confidence_threshold: 0.9
  lead_time: 20
  priority_policy: vehicle_type
signal:
  red: 60
mqtt:
  broker: tcp://localhost:1883
  qos: 1
server:
  allowed_origins: [http://dashboard.local]
`
	var c Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(data), &c))
	rc, err := NewRuntimeConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, rc.TickInterval)
	assert.Equal(t, 0.9, rc.ConfidenceThreshold)
	assert.Equal(t, 20*time.Second, rc.LeadTime)
	assert.Equal(t, PolicyVehicleType, rc.PriorityPolicy)
	assert.Equal(t, time.Minute, rc.Red)
	assert.Equal(t, byte(1), rc.All.MQTT.QoS)
	assert.Equal(t, []string{"http://dashboard.local"}, rc.All.Server.AllowedOrigins)

	var bad Config
	assert.Error(t, yaml.UnmarshalStrict([]byte("corridor:\n  unknown_key: 1\n"), &bad))
}

func TestInvalid(t *testing.T) {
	threshold := 1.5
	_, err := NewRuntimeConfig(Config{Corridor: Corridor{ConfidenceThreshold: &threshold}})
	assert.Error(t, err)
	_, err = NewRuntimeConfig(Config{Corridor: Corridor{PriorityPolicy: "random"}})
	assert.Error(t, err)

	cases := map[string]func(c *Config){
		"negative tick interval":     func(c *Config) { c.Control.TickInterval = -1 },
		"negative watchdog interval": func(c *Config) { c.Control.WatchdogInterval = -0.5 },
		"negative lead time":         func(c *Config) { c.Corridor.LeadTime = -15 },
		"negative pass time":         func(c *Config) { c.Corridor.PassTime = -10 },
		"negative route timeout":     func(c *Config) { c.Corridor.RouteTimeout = -1 },
		"nan min replan interval":    func(c *Config) { c.Corridor.MinReplanInterval = math.NaN() },
		"inf request ttl":            func(c *Config) { c.Corridor.RequestTTL = math.Inf(1) },
		"negative queue size":        func(c *Config) { c.Corridor.QueueSize = -1 },
		"negative memory limit":      func(c *Config) { c.Output.MemoryLimit = -1 },
		"negative green":             func(c *Config) { c.Signal.Green = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var c Config
			mutate(&c)
			_, err := NewRuntimeConfig(c)
			assert.Error(t, err)
		})
	}
}

func TestZeroConfidenceThreshold(t *testing.T) {
	var c Config
	require.NoError(t, yaml.UnmarshalStrict([]byte("corridor:\n  confidence_threshold: 0\n"), &c))
	rc, err := NewRuntimeConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rc.ConfidenceThreshold)
}
