package corridor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// 检测记录的处理结果
const (
	ActionRouteCreated     = "route_created"
	ActionRouteUnavailable = "route_unavailable"
)

// DetectionRequest 检测事件提交请求
type DetectionRequest struct {
	RequestID string                `json:"request_id,omitempty"`
	Event     entity.DetectionEvent `json:"event"`
}

// DetectionResult 检测事件的处理结果
type DetectionResult struct {
	Accepted bool       `json:"accepted"`
	RouteID  string     `json:"route_id,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Route    *RouteView `json:"route,omitempty"`
}

// validate 检查检测事件，返回解析后的车辆类型
func (m *CorridorManager) validate(ev entity.DetectionEvent) (entity.VehicleType, error) {
	if math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1 {
		return "", fmt.Errorf("%w: confidence %v out of [0, 1]", entity.ErrInvalidInput, ev.Confidence)
	}
	vt, err := entity.ParseVehicleType(ev.VehicleType)
	if err != nil {
		return "", err
	}
	if !m.ctx.SignalRegistry().Has(ev.SignalID) {
		return "", fmt.Errorf("%w: signal %s", entity.ErrNotFound, ev.SignalID)
	}
	return vt, nil
}

// SubmitDetection 提交检测事件
// 功能：置信度不低于阈值的事件从检测路口出发规划路线并准入为PLANNED，由后续tick按窗口施加接管
// 参数：req-检测事件，RequestID非空时在保留期内去重
// 返回：
// 1. 准入成功：Accepted=true及路线视图
// 2. 置信度不足：Accepted=false，错误包装ErrInvalidInput，不写检测记录
// 3. 无可达医院：Accepted=false，错误包装ErrRouteUnavailable，检测记录的处理结果为route_unavailable
// 4. 事件非法：结果为空，返回ErrInvalidInput或ErrNotFound
// 说明：路线在锁外基于路网快照计算，不阻塞tick
func (m *CorridorManager) SubmitDetection(ctx context.Context, req DetectionRequest) (*DetectionResult, error) {
	return once(m, ctx, "detection", req.RequestID, func() (*DetectionResult, error) {
		return m.submitDetection(ctx, req.Event)
	})
}

func (m *CorridorManager) submitDetection(ctx context.Context, ev entity.DetectionEvent) (*DetectionResult, error) {
	started := time.Now()
	now := m.ctx.Clock().Now()
	vt, err := m.validate(ev)
	if err != nil {
		return nil, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	threshold := m.ctx.RuntimeConfig().ConfidenceThreshold
	if ev.Confidence < threshold {
		reason := fmt.Sprintf("confidence %.2f below threshold %.2f", ev.Confidence, threshold)
		log.Warnf("detection at %s rejected: %s", ev.SignalID, reason)
		m.event(entity.EventDetectionRejected, ev.SignalID, entity.SeverityWarning, now, reason,
			map[string]any{"vehicle_type": vt, "confidence": ev.Confidence})
		return &DetectionResult{Accepted: false, Reason: reason}, fmt.Errorf("%w: %s", entity.ErrInvalidInput, reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := m.ctx.RoadManager().Snapshot()
	r, err := m.ctx.Router().ComputeRoute(g, ev.SignalID, vt, now)
	if err != nil {
		if !errors.Is(err, entity.ErrRouteUnavailable) {
			return nil, err
		}
		log.Warnf("no route for %s detected at %s: %v", vt, ev.SignalID, err)
		m.recordDetection(ev, vt, ActionRouteUnavailable, "", started)
		m.event(entity.EventRouteUnavailable, ev.SignalID, entity.SeverityWarning, now, err.Error(),
			map[string]any{"vehicle_type": vt})
		return &DetectionResult{Accepted: false, Reason: err.Error()}, err
	}

	r.ID = uuid.NewString()
	rt := newRouteRuntime(r, m.ctx.RuntimeConfig().PassTime, g)
	m.admit(rt)
	log.Infof("route %s admitted: %s from %s to %s via %d signals, eta %v",
		r.ID, vt, ev.SignalID, r.HospitalID, len(r.Nodes), r.ETA)
	m.recordDetection(ev, vt, ActionRouteCreated, r.ID, started)

	view, err := m.GetRoute(r.ID)
	if err != nil {
		return nil, err
	}
	return &DetectionResult{Accepted: true, RouteID: r.ID, Route: &view}, nil
}

func (m *CorridorManager) recordDetection(ev entity.DetectionEvent, vt entity.VehicleType, action, routeID string, started time.Time) {
	rec := m.ctx.Recorder()
	if rec == nil {
		return
	}
	rec.RecordDetection(entity.DetectionRecord{
		SignalID:       ev.SignalID,
		VehicleType:    vt,
		Confidence:     ev.Confidence,
		DetectionTime:  ev.Timestamp,
		ActionTaken:    action,
		ResponseTimeMs: time.Since(started).Milliseconds(),
		RouteID:        routeID,
		Metadata:       ev.Metadata,
	})
}

// PlanRequest 路线试算请求
// 说明：SignalID与Location二选一，Location取最近的路口作为起点；Alternatives为需要的备选路线条数
type PlanRequest struct {
	SignalID     string           `json:"signal_id,omitempty"`
	Location     *entity.Location `json:"location,omitempty"`
	VehicleType  string           `json:"vehicle_type"`
	Alternatives int              `json:"alternatives,omitempty"`
}

// maxAlternatives 单次试算最多返回的备选路线数
const maxAlternatives = 10

// PlannedRoute 试算得到的一条路线
type PlannedRoute struct {
	Route              entity.EmergencyRoute `json:"route"`
	Hospital           entity.Hospital       `json:"hospital"`
	EstimatedTimeSaved float64               `json:"estimated_time_saved"` // 秒
}

// PlanResult 路线试算结果
type PlanResult struct {
	SourceID string `json:"source_id"`
	PlannedRoute
	Alternatives []PlannedRoute `json:"alternatives,omitempty"`
}

// PlanRoute 路线试算
// 功能：计算从起点出发的最优路线，不准入、不施加任何接管
func (m *CorridorManager) PlanRoute(req PlanRequest) (*PlanResult, error) {
	vt, err := entity.ParseVehicleType(req.VehicleType)
	if err != nil {
		return nil, err
	}
	reg := m.ctx.SignalRegistry()
	source := req.SignalID
	switch {
	case source != "":
		if !reg.Has(source) {
			return nil, fmt.Errorf("%w: signal %s", entity.ErrNotFound, source)
		}
	case req.Location != nil:
		if source, err = reg.Nearest(*req.Location); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: signal_id or location is required", entity.ErrInvalidInput)
	}
	if req.Alternatives < 0 || req.Alternatives > maxAlternatives {
		return nil, fmt.Errorf("%w: alternatives must be within [0, %d], got %d", entity.ErrInvalidInput, maxAlternatives, req.Alternatives)
	}
	g := m.ctx.RoadManager().Snapshot()
	now := m.ctx.Clock().Now()
	router := m.ctx.Router()
	r, err := router.ComputeRoute(g, source, vt, now)
	if err != nil {
		return nil, err
	}
	best, err := m.planned(r)
	if err != nil {
		return nil, err
	}
	res := &PlanResult{SourceID: source, PlannedRoute: best}
	if req.Alternatives > 0 {
		alts, err := router.Alternatives(g, source, vt, now, req.Alternatives)
		if err != nil {
			return nil, err
		}
		for _, a := range alts {
			p, err := m.planned(a)
			if err != nil {
				return nil, err
			}
			res.Alternatives = append(res.Alternatives, p)
		}
	}
	return res, nil
}

func (m *CorridorManager) planned(r *entity.EmergencyRoute) (PlannedRoute, error) {
	h, err := m.ctx.HospitalManager().Get(r.HospitalID)
	if err != nil {
		return PlannedRoute{}, err
	}
	return PlannedRoute{
		Route:              *r,
		Hospital:           h,
		EstimatedTimeSaved: m.timeSaved(r.Nodes),
	}, nil
}
