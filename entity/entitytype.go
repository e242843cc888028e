package entity

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Phase 信号灯相位
type Phase string

const (
	PhaseGreen    Phase = "GREEN"
	PhaseYellow   Phase = "YELLOW"
	PhaseRed      Phase = "RED"
	PhaseOverride Phase = "OVERRIDE" // 紧急接管，交通上等价于绿灯
)

// VehicleType 紧急车辆类型
type VehicleType string

const (
	VehicleAmbulance VehicleType = "ambulance"
	VehiclePolice    VehicleType = "police"
	VehicleFireTruck VehicleType = "fire_truck"
)

// 所有合法的车辆类型
var VehicleTypes = []VehicleType{VehicleAmbulance, VehiclePolice, VehicleFireTruck}

// ParseVehicleType 解析车辆类型，未知类型返回ErrInvalidInput
func ParseVehicleType(s string) (VehicleType, error) {
	for _, v := range VehicleTypes {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidInput, s)
}

// HospitalType 医院类型
type HospitalType string

const (
	HospitalGeneral   HospitalType = "general"
	HospitalSpecialty HospitalType = "specialty"
	HospitalEmergency HospitalType = "emergency"
)

// RouteStatus 紧急路线状态
type RouteStatus string

const (
	RoutePlanned   RouteStatus = "PLANNED"
	RouteActive    RouteStatus = "ACTIVE"
	RouteCompleted RouteStatus = "COMPLETED"
	RouteExpired   RouteStatus = "EXPIRED"
	RouteCancelled RouteStatus = "CANCELLED"
)

// Terminal 是否为终结状态（COMPLETED/EXPIRED/CANCELLED）
func (s RouteStatus) Terminal() bool {
	return s == RouteCompleted || s == RouteExpired || s == RouteCancelled
}

// Location 经纬度坐标
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude" bson:"longitude"`
}

// Point 转换为orb点（X=经度，Y=纬度）
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

func (l Location) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", l.Latitude, l.Longitude)
}

// Override 紧急接管信息，expiry必须有限
type Override struct {
	Reason string    `json:"reason"`
	Expiry time.Time `json:"expiry"`
	Owner  string    `json:"owner"` // 持有者路线ID（或operator:前缀的人工接管）
}

// Active 在now时刻是否仍未过期
func (o *Override) Active(now time.Time) bool {
	return o != nil && now.Before(o.Expiry)
}

// IntersectionState 路口信号状态的只读快照
type IntersectionState struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Location      Location      `json:"location"`
	Phase         Phase         `json:"phase"`
	PhaseEntry    time.Time     `json:"phase_entry"`
	PhaseDuration time.Duration `json:"phase_duration"` // 当前相位的计划时长（OVERRIDE为到期前剩余）
	Settling      bool          `json:"settling"`       // 接管结束后的红灯缓冲期
	Override      *Override     `json:"override,omitempty"`
	Green         time.Duration `json:"green"`
	Yellow        time.Duration `json:"yellow"`
	Red           time.Duration `json:"red"`
}

// Remaining 当前相位剩余时长
func (s IntersectionState) Remaining(now time.Time) time.Duration {
	if s.Override != nil {
		return max(s.Override.Expiry.Sub(now), 0)
	}
	return max(s.PhaseEntry.Add(s.PhaseDuration).Sub(now), 0)
}

// Hospital 医院
// 说明：医院挂接在某个路口上，AccessTime为从挂接路口到医院的通行时间（秒）
type Hospital struct {
	ID               string       `json:"id" yaml:"id" bson:"id"`
	Name             string       `json:"name" yaml:"name" bson:"name"`
	Location         Location     `json:"location" yaml:",inline" bson:",inline"`
	Type             HospitalType `json:"type" yaml:"type" bson:"hospital_type"`
	Capacity         int32        `json:"capacity" yaml:"capacity" bson:"capacity"`
	AcceptsEmergency bool         `json:"accepts_emergency" yaml:"emergency_services" bson:"emergency_services"`
	JunctionID       string       `json:"junction_id" yaml:"junction_id" bson:"junction_id"`
	AccessTime       float64      `json:"access_time" yaml:"access_time" bson:"access_time"`
}

// EmergencyRoute 紧急路线
// 说明：Nodes为从起点路口到医院挂接路口的有序路口序列，Arrivals为对应的预计到达时刻（非递减）
type EmergencyRoute struct {
	ID          string      `json:"route_id"`
	VehicleType VehicleType `json:"vehicle_type"`
	HospitalID  string      `json:"hospital_id"`
	Nodes       []string    `json:"nodes"`
	Arrivals    []time.Time `json:"arrivals"`
	Cost        float64     `json:"cost"`     // 总通行时间（秒），含医院接入时间
	Distance    float64     `json:"distance"` // 路径基础距离之和
	ETA         time.Time   `json:"eta"`      // 到达医院的预计时刻
	Status      RouteStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	LastReplan  time.Time   `json:"last_replan"`
}

// IndexOf 路口在路线中的下标，不存在返回-1
func (r *EmergencyRoute) IndexOf(id string) int {
	for i, n := range r.Nodes {
		if n == id {
			return i
		}
	}
	return -1
}

// DetectionEvent 分类模型给出的检测事件
type DetectionEvent struct {
	SignalID    string         `json:"signal_id"`
	VehicleType string         `json:"vehicle_type"`
	Confidence  float64        `json:"confidence"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"` // 原样透传的分类器元数据
}
