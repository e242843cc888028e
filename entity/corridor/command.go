package corridor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// command 在下一个tick开始时由tick协程执行的变更
type command struct {
	apply func(now time.Time) (any, error)
	done  chan struct{}
	res   any
	err   error
}

// submit 提交命令并等待执行结果
// 说明：命令入队后即使ctx被取消也会执行
func submit[T any](m *CorridorManager, ctx context.Context, apply func(now time.Time) (T, error)) (T, error) {
	var zero T
	c := &command{
		apply: func(now time.Time) (any, error) { return apply(now) },
		done:  make(chan struct{}),
	}
	select {
	case m.queue <- c:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	res, _ := c.res.(T)
	return res, c.err
}

// drain 执行所有积压命令
func (m *CorridorManager) drain(now time.Time) {
	for {
		select {
		case c := <-m.queue:
			c.res, c.err = c.apply(now)
			close(c.done)
		default:
			return
		}
	}
}

// requestEntry 按请求ID缓存的结果
type requestEntry struct {
	done      chan struct{}
	res       any
	err       error
	at        time.Time
	discarded bool
}

// once 按请求ID去重
// 功能：相同(op, requestID)在保留期内只执行一次，重复请求得到第一次的结果
// 说明：requestID为空时不去重；ctx取消导致的失败不缓存
func once[T any](m *CorridorManager, ctx context.Context, op, requestID string, fn func() (T, error)) (T, error) {
	if requestID == "" {
		return fn()
	}
	key := op + "/" + requestID
	for {
		m.reqMtx.Lock()
		e, ok := m.requests[key]
		if !ok {
			e = &requestEntry{done: make(chan struct{})}
			m.requests[key] = e
			m.reqMtx.Unlock()

			res, err := fn()

			m.reqMtx.Lock()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				delete(m.requests, key)
				e.discarded = true
			} else {
				e.res, e.err, e.at = res, err, m.ctx.Clock().Now()
			}
			m.reqMtx.Unlock()
			close(e.done)
			return res, err
		}
		m.reqMtx.Unlock()

		select {
		case <-e.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
		if e.discarded {
			continue
		}
		res, _ := e.res.(T)
		return res, e.err
	}
}

func (m *CorridorManager) pruneRequests(now time.Time) {
	ttl := m.ctx.RuntimeConfig().RequestTTL
	m.reqMtx.Lock()
	defer m.reqMtx.Unlock()
	for key, e := range m.requests {
		if !e.at.IsZero() && now.Sub(e.at) > ttl {
			delete(m.requests, key)
		}
	}
}

func (m *CorridorManager) lookup(id string) (*routeRuntime, error) {
	rt, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: route %s", entity.ErrNotFound, id)
	}
	return rt, nil
}

// RouteRequest 针对单条路线的请求
type RouteRequest struct {
	RequestID string `json:"request_id,omitempty"`
	RouteID   string `json:"route_id"`
}

// Cancel 取消路线
// 功能：在下一个tick开始时解除路线持有的全部接管并置为CANCELLED
// 说明：对已终结路线无效果，返回其当前视图
func (m *CorridorManager) Cancel(ctx context.Context, req RouteRequest) (RouteView, error) {
	return once(m, ctx, "cancel", req.RequestID, func() (RouteView, error) {
		return submit(m, ctx, func(now time.Time) (RouteView, error) {
			rt, err := m.lookup(req.RouteID)
			if err != nil {
				return RouteView{}, err
			}
			if !rt.route.Status.Terminal() {
				m.retire(rt, entity.RouteCancelled, now, "cancelled by request")
			}
			return rt.view(m.ctx.RuntimeConfig().LeadTime), nil
		})
	})
}

// ConfirmArrival 确认车辆已到达医院，路线置为COMPLETED
func (m *CorridorManager) ConfirmArrival(ctx context.Context, req RouteRequest) (RouteView, error) {
	return once(m, ctx, "arrival", req.RequestID, func() (RouteView, error) {
		return submit(m, ctx, func(now time.Time) (RouteView, error) {
			rt, err := m.lookup(req.RouteID)
			if err != nil {
				return RouteView{}, err
			}
			if !rt.route.Status.Terminal() {
				rt.passed = len(rt.route.Nodes) - 1
				rt.lastProgress = now
				m.retire(rt, entity.RouteCompleted, now, "arrival confirmed")
			}
			return rt.view(m.ctx.RuntimeConfig().LeadTime), nil
		})
	})
}

// ProgressRequest 车辆通过路口的进度报告
type ProgressRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	RouteID   string    `json:"route_id"`
	SignalID  string    `json:"signal_id"`
	At        time.Time `json:"at,omitempty"` // 实际通过时刻，零值取当前时刻
}

// ReportProgress 报告车辆已通过路口
// 功能：更新已通过的下标与最近进度；实际时刻偏离预测超过容差时在下一次去抖后触发重规划
// 说明：
// 1. 已通过路口的重复/迟到报告被忽略
// 2. 路口不在路线上返回ErrInvalidInput
// 3. 通过终点路口时路线置为COMPLETED
func (m *CorridorManager) ReportProgress(ctx context.Context, req ProgressRequest) (RouteView, error) {
	return once(m, ctx, "progress", req.RequestID, func() (RouteView, error) {
		return submit(m, ctx, func(now time.Time) (RouteView, error) {
			rt, err := m.lookup(req.RouteID)
			if err != nil {
				return RouteView{}, err
			}
			lead := m.ctx.RuntimeConfig().LeadTime
			r := rt.route
			if r.Status.Terminal() {
				return rt.view(lead), nil
			}
			k := -1
			for i := rt.passed + 1; i < len(r.Nodes); i++ {
				if r.Nodes[i] == req.SignalID {
					k = i
					break
				}
			}
			if k < 0 {
				if r.IndexOf(req.SignalID) < 0 {
					return RouteView{}, fmt.Errorf("%w: signal %s is not on route %s", entity.ErrInvalidInput, req.SignalID, r.ID)
				}
				log.Debugf("stale progress for route %s at %s", r.ID, req.SignalID)
				return rt.view(lead), nil
			}
			at := req.At
			if at.IsZero() {
				at = now
			}
			rt.passed = k
			rt.lastProgress = now
			tol := m.ctx.RuntimeConfig().ProgressTolerance
			if d := at.Sub(r.Arrivals[k]); d > tol || d < -tol {
				rt.deviated = true
				log.Infof("route %s deviates from plan by %v at %s", r.ID, d, req.SignalID)
			}
			if k == len(r.Nodes)-1 {
				m.retire(rt, entity.RouteCompleted, now, "reached destination signal")
			}
			return rt.view(lead), nil
		})
	})
}

// ManualOverrideRequest 人工接管请求
type ManualOverrideRequest struct {
	RequestID string  `json:"request_id,omitempty"`
	SignalID  string  `json:"signal_id"`
	Reason    string  `json:"reason,omitempty"`
	Duration  float64 `json:"duration,omitempty"` // 秒，零值取默认时长
}

// ManualOverride 人工接管路口
// 功能：以operator:<请求ID>为持有者施加接管
// 说明：
// 1. 路口被路线持有时人工接管胜出，原持有路线的窗口推迟到人工接管结束后
// 2. 路口被其他人工接管持有时返回ErrConflict
func (m *CorridorManager) ManualOverride(ctx context.Context, req ManualOverrideRequest) (entity.IntersectionState, error) {
	if req.Duration < 0 {
		return entity.IntersectionState{}, fmt.Errorf("%w: negative override duration", entity.ErrInvalidInput)
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return once(m, ctx, "override", req.RequestID, func() (entity.IntersectionState, error) {
		return submit(m, ctx, func(now time.Time) (entity.IntersectionState, error) {
			reg := m.ctx.SignalRegistry()
			if _, err := reg.Get(req.SignalID); err != nil {
				return entity.IntersectionState{}, err
			}
			rc := m.ctx.RuntimeConfig()
			duration := rc.ManualOverrideDuration
			if req.Duration > 0 {
				duration = time.Duration(req.Duration * float64(time.Second))
			}
			owner := OperatorPrefix + requestID
			reason := req.Reason
			if reason == "" {
				reason = "manual override"
			}
			expiry := now.Add(duration)

			holder, held := reg.Owner(req.SignalID, now)
			switch {
			case !held || holder == owner:
				if err := reg.ApplyOverride(req.SignalID, reason, expiry, owner, now); err != nil {
					return entity.IntersectionState{}, err
				}
			case strings.HasPrefix(holder, OperatorPrefix):
				return entity.IntersectionState{}, fmt.Errorf("%w: %s is held by %s", entity.ErrConflict, req.SignalID, holder)
			default:
				if err := reg.TransferOverride(req.SignalID, holder, owner, reason, expiry, now); err != nil {
					return entity.IntersectionState{}, err
				}
				if h, ok := m.data[holder]; ok {
					delete(h.owned, req.SignalID)
					if hk, ok := h.upcoming()[req.SignalID]; ok {
						deferred := expiry.Add(rc.PassTime)
						if deferred.After(h.windowEnd[hk]) {
							h.windowEnd[hk] = deferred
						}
						h.deferredBy[req.SignalID] = owner
					}
				}
				m.event(entity.EventOverrideConflict, req.SignalID, entity.SeverityWarning, now,
					fmt.Sprintf("manual override takes over from route %s", holder),
					map[string]any{"winner": owner, "loser": holder})
			}
			log.Infof("manual override on %s by %s until %v", req.SignalID, owner, expiry)
			m.event(entity.EventManualOverride, req.SignalID, entity.SeverityInfo, now, reason,
				map[string]any{"owner": owner, "expiry": expiry})
			return reg.Get(req.SignalID)
		})
	})
}

// ManualClearRequest 解除人工接管请求
type ManualClearRequest struct {
	RequestID string `json:"request_id,omitempty"`
	SignalID  string `json:"signal_id"`
}

// ManualClear 解除路口上的人工接管
// 说明：路口无接管时无效果；被路线持有时返回ErrNotOwner
func (m *CorridorManager) ManualClear(ctx context.Context, req ManualClearRequest) (entity.IntersectionState, error) {
	return once(m, ctx, "clear", req.RequestID, func() (entity.IntersectionState, error) {
		return submit(m, ctx, func(now time.Time) (entity.IntersectionState, error) {
			reg := m.ctx.SignalRegistry()
			if _, err := reg.Get(req.SignalID); err != nil {
				return entity.IntersectionState{}, err
			}
			holder, held := reg.Owner(req.SignalID, now)
			if held {
				if !strings.HasPrefix(holder, OperatorPrefix) {
					return entity.IntersectionState{}, fmt.Errorf("%w: %s is held by route %s", entity.ErrNotOwner, req.SignalID, holder)
				}
				if err := reg.ClearOverride(req.SignalID, holder, now); err != nil {
					return entity.IntersectionState{}, err
				}
				log.Infof("manual override on %s cleared", req.SignalID)
				m.event(entity.EventManualOverride, req.SignalID, entity.SeverityInfo, now, "manual override cleared",
					map[string]any{"owner": holder})
			}
			return reg.Get(req.SignalID)
		})
	})
}
