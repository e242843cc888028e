package config

// Input 指定路网输入数据来源的配置（MongoDB、文件系统）
// 功能：定义路口、道路、医院数据的加载路径
// 说明：File优先级高于MongoDB
type Input struct {
	URI       string `yaml:"uri,omitempty"`        // MongoDB连接字符串
	DB        string `yaml:"db,omitempty"`         // 数据库名
	Signals   string `yaml:"signals,omitempty"`    // 路口集合名，默认traffic_signals
	Edges     string `yaml:"edges,omitempty"`      // 道路集合名，默认road_edges
	Hospitals string `yaml:"hospitals,omitempty"`  // 医院集合名，默认hospitals
	File      string `yaml:"file,omitempty"`       // 路网YAML文件路径
}

// Control 协调器运行控制
type Control struct {
	TickInterval     float64 `yaml:"tick_interval,omitempty"`     // tick间隔（秒）
	WatchdogInterval float64 `yaml:"watchdog_interval,omitempty"` // 看门狗扫描间隔（秒）
}

// Corridor 绿波走廊协调参数
// 说明：所有时间单位为秒
type Corridor struct {
	ConfidenceThreshold    *float64 `yaml:"confidence_threshold,omitempty"`    // 检测置信度阈值，可为0
	LeadTime               float64 `yaml:"lead_time,omitempty"`                // 提前接管时间
	PassTime               float64 `yaml:"pass_time,omitempty"`                // 车辆通过时间
	ReplanDensityThreshold float64 `yaml:"replan_density_threshold,omitempty"` // 触发重规划的拥堵系数相对变化
	MinReplanInterval      float64 `yaml:"min_replan_interval,omitempty"`      // 重规划去抖间隔
	ProgressTolerance      float64 `yaml:"progress_tolerance,omitempty"`       // 实际进度与预测的容差
	RouteTimeout           float64 `yaml:"route_timeout,omitempty"`            // 无进度确认的超时
	MaxRouteLifetime       float64 `yaml:"max_route_lifetime,omitempty"`       // 路线最长生命周期
	RequestTTL             float64 `yaml:"request_ttl,omitempty"`              // 请求ID去重的保留时长
	RetiredRouteTTL        float64 `yaml:"retired_route_ttl,omitempty"`        // 终结路线的保留时长
	QueueSize              int     `yaml:"queue_size,omitempty"`               // 命令队列长度
	PriorityPolicy         string  `yaml:"priority_policy,omitempty"`          // earliest_arrival | vehicle_type
	ManualOverrideDuration float64 `yaml:"manual_override_duration,omitempty"` // 人工接管默认时长
}

// Signal 默认信号配时（秒）
type Signal struct {
	Green  float64 `yaml:"green,omitempty"`
	Yellow float64 `yaml:"yellow,omitempty"`
	Red    float64 `yaml:"red,omitempty"`
}

// Output 持久化输出
// 说明：URI为空时使用内存存储
type Output struct {
	URI    string `yaml:"uri,omitempty"`
	DB     string `yaml:"db,omitempty"`
	Buffer int    `yaml:"buffer,omitempty"` // 异步写出缓冲区长度

	MemoryLimit int `yaml:"memory_limit,omitempty"` // 内存存储每张表保留的记录数
}

// MQTT 检测事件与路况的消息接入
// 说明：Broker为空时禁用
type MQTT struct {
	Broker         string `yaml:"broker,omitempty"`
	ClientID       string `yaml:"client_id,omitempty"`
	Username       string `yaml:"username,omitempty"`
	Password       string `yaml:"password,omitempty"`
	DetectionTopic string `yaml:"detection_topic,omitempty"`
	DensityTopic   string `yaml:"density_topic,omitempty"`
	ProgressTopic  string `yaml:"progress_topic,omitempty"`
	QoS            byte   `yaml:"qos,omitempty"`
}

// Server HTTP/RPC服务
type Server struct {
	Listen         string   `yaml:"listen,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Config YAML配置文件的根结构
type Config struct {
	Input    Input    `yaml:"input"`
	Control  Control  `yaml:"control,omitempty"`
	Corridor Corridor `yaml:"corridor,omitempty"`
	Signal   Signal   `yaml:"signal,omitempty"`
	Output   Output   `yaml:"output,omitempty"`
	MQTT     MQTT     `yaml:"mqtt,omitempty"`
	Server   Server   `yaml:"server,omitempty"`
}
