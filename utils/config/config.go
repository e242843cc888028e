package config

import (
	"fmt"
	"math"
	"time"
)

// 默认值
const (
	DefaultTickInterval           = 1.0
	DefaultWatchdogInterval       = 1.0
	DefaultConfidenceThreshold    = 0.85
	DefaultLeadTime               = 15.0
	DefaultPassTime               = 10.0
	DefaultReplanDensityThreshold = 0.25
	DefaultMinReplanInterval      = 30.0
	DefaultProgressTolerance      = 20.0
	DefaultRouteTimeout           = 1800.0
	DefaultMaxRouteLifetime       = 3600.0
	DefaultRequestTTL             = 600.0
	DefaultRetiredRouteTTL        = 3600.0
	DefaultQueueSize              = 1024
	DefaultManualOverrideDuration = 60.0
	DefaultGreen                  = 30.0
	DefaultYellow                 = 5.0
	DefaultRed                    = 45.0
	DefaultOutputBuffer           = 4096
	DefaultMemoryLimit            = 10000

	PolicyEarliestArrival = "earliest_arrival"
	PolicyVehicleType     = "vehicle_type"
)

func orDefault[T comparable](v T, d T) T {
	var zero T
	if v == zero {
		return d
	}
	return v
}

// Normalize 填充默认值并检查取值范围
func (c *Config) Normalize() error {
	c.Input.Signals = orDefault(c.Input.Signals, "traffic_signals")
	c.Input.Edges = orDefault(c.Input.Edges, "road_edges")
	c.Input.Hospitals = orDefault(c.Input.Hospitals, "hospitals")

	c.Control.TickInterval = orDefault(c.Control.TickInterval, DefaultTickInterval)
	c.Control.WatchdogInterval = orDefault(c.Control.WatchdogInterval, DefaultWatchdogInterval)

	cc := &c.Corridor
	if cc.ConfidenceThreshold == nil {
		threshold := DefaultConfidenceThreshold
		cc.ConfidenceThreshold = &threshold
	}
	cc.LeadTime = orDefault(cc.LeadTime, DefaultLeadTime)
	cc.PassTime = orDefault(cc.PassTime, DefaultPassTime)
	cc.ReplanDensityThreshold = orDefault(cc.ReplanDensityThreshold, DefaultReplanDensityThreshold)
	cc.MinReplanInterval = orDefault(cc.MinReplanInterval, DefaultMinReplanInterval)
	cc.ProgressTolerance = orDefault(cc.ProgressTolerance, DefaultProgressTolerance)
	cc.RouteTimeout = orDefault(cc.RouteTimeout, DefaultRouteTimeout)
	cc.MaxRouteLifetime = orDefault(cc.MaxRouteLifetime, DefaultMaxRouteLifetime)
	cc.RequestTTL = orDefault(cc.RequestTTL, DefaultRequestTTL)
	cc.RetiredRouteTTL = orDefault(cc.RetiredRouteTTL, DefaultRetiredRouteTTL)
	cc.QueueSize = orDefault(cc.QueueSize, DefaultQueueSize)
	cc.PriorityPolicy = orDefault(cc.PriorityPolicy, PolicyEarliestArrival)
	cc.ManualOverrideDuration = orDefault(cc.ManualOverrideDuration, DefaultManualOverrideDuration)

	c.Signal.Green = orDefault(c.Signal.Green, DefaultGreen)
	c.Signal.Yellow = orDefault(c.Signal.Yellow, DefaultYellow)
	c.Signal.Red = orDefault(c.Signal.Red, DefaultRed)

	c.Output.DB = orDefault(c.Output.DB, "corridor")
	c.Output.Buffer = orDefault(c.Output.Buffer, DefaultOutputBuffer)
	c.Output.MemoryLimit = orDefault(c.Output.MemoryLimit, DefaultMemoryLimit)

	c.MQTT.ClientID = orDefault(c.MQTT.ClientID, "green-corridor")
	c.MQTT.DetectionTopic = orDefault(c.MQTT.DetectionTopic, "corridor/detections")
	c.MQTT.DensityTopic = orDefault(c.MQTT.DensityTopic, "corridor/density")
	c.MQTT.ProgressTopic = orDefault(c.MQTT.ProgressTopic, "corridor/progress")

	c.Server.Listen = orDefault(c.Server.Listen, ":8080")

	if t := *cc.ConfidenceThreshold; math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("corridor.confidence_threshold must be within [0, 1], got %v", t)
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"control.tick_interval", c.Control.TickInterval},
		{"control.watchdog_interval", c.Control.WatchdogInterval},
		{"corridor.lead_time", cc.LeadTime},
		{"corridor.pass_time", cc.PassTime},
		{"corridor.replan_density_threshold", cc.ReplanDensityThreshold},
		{"corridor.min_replan_interval", cc.MinReplanInterval},
		{"corridor.progress_tolerance", cc.ProgressTolerance},
		{"corridor.route_timeout", cc.RouteTimeout},
		{"corridor.max_route_lifetime", cc.MaxRouteLifetime},
		{"corridor.request_ttl", cc.RequestTTL},
		{"corridor.retired_route_ttl", cc.RetiredRouteTTL},
		{"corridor.manual_override_duration", cc.ManualOverrideDuration},
		{"corridor.queue_size", float64(cc.QueueSize)},
		{"output.buffer", float64(c.Output.Buffer)},
		{"output.memory_limit", float64(c.Output.MemoryLimit)},
		{"signal.green", c.Signal.Green},
		{"signal.yellow", c.Signal.Yellow},
		{"signal.red", c.Signal.Red},
	}
	for _, p := range positive {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) || p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}
	if cc.PriorityPolicy != PolicyEarliestArrival && cc.PriorityPolicy != PolicyVehicleType {
		return fmt.Errorf("corridor.priority_policy must be %s or %s, got %s", PolicyEarliestArrival, PolicyVehicleType, cc.PriorityPolicy)
	}
	return nil
}

// Seconds 秒数转换为time.Duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RuntimeConfig 运行时配置
// 功能：将YAML中以秒表示的参数转换为运行时可直接使用的time.Duration
type RuntimeConfig struct {
	All Config // 全部配置

	TickInterval           time.Duration
	WatchdogInterval       time.Duration
	ConfidenceThreshold    float64
	LeadTime               time.Duration
	PassTime               time.Duration
	ReplanDensityThreshold float64
	MinReplanInterval      time.Duration
	ProgressTolerance      time.Duration
	RouteTimeout           time.Duration
	MaxRouteLifetime       time.Duration
	RequestTTL             time.Duration
	RetiredRouteTTL        time.Duration
	QueueSize              int
	PriorityPolicy         string
	ManualOverrideDuration time.Duration
	Green, Yellow, Red     time.Duration
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：填充默认值后转换时间单位
// 返回：运行时配置指针；配置非法时返回错误
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	if err := config.Normalize(); err != nil {
		return nil, err
	}
	cc := config.Corridor
	return &RuntimeConfig{
		All:                    config,
		TickInterval:           Seconds(config.Control.TickInterval),
		WatchdogInterval:       Seconds(config.Control.WatchdogInterval),
		ConfidenceThreshold:    *cc.ConfidenceThreshold,
		LeadTime:               Seconds(cc.LeadTime),
		PassTime:               Seconds(cc.PassTime),
		ReplanDensityThreshold: cc.ReplanDensityThreshold,
		MinReplanInterval:      Seconds(cc.MinReplanInterval),
		ProgressTolerance:      Seconds(cc.ProgressTolerance),
		RouteTimeout:           Seconds(cc.RouteTimeout),
		MaxRouteLifetime:       Seconds(cc.MaxRouteLifetime),
		RequestTTL:             Seconds(cc.RequestTTL),
		RetiredRouteTTL:        Seconds(cc.RetiredRouteTTL),
		QueueSize:              cc.QueueSize,
		PriorityPolicy:         cc.PriorityPolicy,
		ManualOverrideDuration: Seconds(cc.ManualOverrideDuration),
		Green:                  Seconds(config.Signal.Green),
		Yellow:                 Seconds(config.Signal.Yellow),
		Red:                    Seconds(config.Signal.Red),
	}, nil
}
