package entity

import "time"

// 持久化边界上的记录行，字段与关系表结构一一对应

// SignalStateRecord signal_state_history表的一行
type SignalStateRecord struct {
	SignalID            string    `json:"signal_id" bson:"signal_id"`
	State               Phase     `json:"state" bson:"state"`
	StateDuration       int32     `json:"state_duration" bson:"state_duration"` // 秒
	IsEmergencyOverride bool      `json:"is_emergency_override" bson:"is_emergency_override"`
	OverrideReason      string    `json:"override_reason,omitempty" bson:"override_reason,omitempty"`
	OverrideOwner       string    `json:"override_owner,omitempty" bson:"override_owner,omitempty"`
	TrafficDensity      float64   `json:"traffic_density" bson:"traffic_density"`
	StartTime           time.Time `json:"start_time" bson:"start_time"`
	EndTime             time.Time `json:"end_time" bson:"end_time"`
}

// DetectionRecord emergency_detections表的一行
type DetectionRecord struct {
	SignalID       string         `json:"signal_id" bson:"signal_id"`
	VehicleType    VehicleType    `json:"vehicle_type" bson:"vehicle_type"`
	Confidence     float64        `json:"confidence" bson:"confidence"`
	DetectionTime  time.Time      `json:"detection_time" bson:"detection_time"`
	ActionTaken    string         `json:"action_taken" bson:"action_taken"`
	ResponseTimeMs int64          `json:"response_time_ms" bson:"response_time_ms"`
	RouteID        string         `json:"route_id,omitempty" bson:"route_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"features_detected,omitempty"`
}

// Waypoint 路线途经点
type Waypoint struct {
	SignalID string    `json:"signal_id" bson:"signal_id"`
	Location Location  `json:"location" bson:"location"`
	Arrival  time.Time `json:"arrival" bson:"arrival"`
}

// RouteRecord emergency_routes表的一行，按route_id更新
type RouteRecord struct {
	RouteID            string      `json:"route_id" bson:"route_id"`
	VehicleType        VehicleType `json:"vehicle_type" bson:"vehicle_type"`
	HospitalID         string      `json:"hospital_id" bson:"hospital_id"`
	StartLocation      Location    `json:"start_location" bson:"start_location"`
	EndLocation        Location    `json:"end_location" bson:"end_location"`
	RouteWaypoints     []Waypoint  `json:"route_waypoints" bson:"route_waypoints"`
	SignalsCoordinated []string    `json:"signals_coordinated" bson:"signals_coordinated"`
	TotalDistance      float64     `json:"total_distance" bson:"total_distance"`
	EstimatedDuration  int32       `json:"estimated_duration" bson:"estimated_duration"` // 秒
	ActualDuration     int32       `json:"actual_duration" bson:"actual_duration"`
	TimeSaved          int32       `json:"time_saved" bson:"time_saved"`
	Status             RouteStatus `json:"status" bson:"status"`
	CreatedAt          time.Time   `json:"created_at" bson:"created_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Severity 系统事件级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// 系统事件类型
const (
	EventDetectionRejected  = "detection_rejected"
	EventRouteUnavailable   = "route_unavailable"
	EventRouteStatus        = "route_status"
	EventOverrideConflict   = "override_conflict"
	EventOverrideNotOwner   = "override_not_owner"
	EventOverrideLost       = "override_lost"
	EventOverrideExpired    = "override_expired"
	EventRouteReplanned     = "route_replanned"
	EventReplanFailed       = "replan_failed"
	EventManualOverride     = "manual_override"
	EventTimingUpdated      = "timing_updated"
	EventDensityUpdated     = "density_updated"
	EventIntakeDecodeFailed = "intake_decode_failed"
)

// SystemEvent system_events表的一行
type SystemEvent struct {
	ID        string         `json:"id" bson:"event_id"`
	Type      string         `json:"event_type" bson:"event_type"`
	Source    string         `json:"event_source" bson:"event_source"`
	Severity  Severity       `json:"severity" bson:"severity"`
	Message   string         `json:"message" bson:"message"`
	Data      map[string]any `json:"event_data,omitempty" bson:"event_data,omitempty"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
}
