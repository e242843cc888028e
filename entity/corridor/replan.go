package corridor

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// densityDrift 查找沿途尚未通过的道路中拥堵系数相对变化超过阈值的一条
func (m *CorridorManager) densityDrift(rt *routeRuntime) (string, bool) {
	threshold := m.ctx.RuntimeConfig().ReplanDensityThreshold
	roads := m.ctx.RoadManager()
	nodes := rt.route.Nodes
	for i := max(rt.passed, 0) + 1; i < len(nodes); i++ {
		key := entity.NewEdgeKey(nodes[i-1], nodes[i])
		old, ok := rt.density[key]
		if !ok || old <= 0 {
			continue
		}
		cur, err := roads.Density(nodes[i-1], nodes[i])
		if err != nil {
			continue
		}
		if math.Abs(cur-old)/old > threshold {
			return fmt.Sprintf("density on %s-%s changed %.2f -> %.2f", key.A, key.B, old, cur), true
		}
	}
	return "", false
}

// maybeReplan 检查重规划触发条件，距上次规划不足最小间隔时不检查
func (m *CorridorManager) maybeReplan(rt *routeRuntime, now time.Time) {
	if now.Sub(rt.route.LastReplan) < m.ctx.RuntimeConfig().MinReplanInterval {
		return
	}
	trigger := ""
	if rt.deviated {
		trigger = "progress deviates from plan"
	} else if t, ok := m.densityDrift(rt); ok {
		trigger = t
	}
	if trigger != "" {
		m.replan(rt, now, trigger)
	}
}

// replan 从最近通过的路口（无进度时为起点）重新规划剩余路线
// 算法说明：
// 1. 在当前路网快照上计算新路线，可能改选医院
// 2. 已通过的路口及其预计到达时刻保持不变，新路线拼接在其后，预计到达时刻保持非递减
// 3. 未通过部分的窗口按新的预计到达时刻重建；不再途经的路口在本tick随后被解除
// 4. 失败时保留原计划并记录replan_failed
func (m *CorridorManager) replan(rt *routeRuntime, now time.Time, trigger string) {
	r := rt.route
	p := max(rt.passed, 0)
	g := m.ctx.RoadManager().Snapshot()
	r.LastReplan = now
	rt.deviated = false

	next, err := m.ctx.Router().ComputeRoute(g, r.Nodes[p], r.VehicleType, now)
	if err != nil {
		log.Warnf("replan of route %s failed (%s): %v", r.ID, trigger, err)
		m.event(entity.EventReplanFailed, r.ID, entity.SeverityWarning, now, err.Error(),
			map[string]any{"trigger": trigger})
		return
	}

	before := slices.Clone(r.Nodes)
	prefixDistance := 0.0
	for i := 1; i <= p; i++ {
		if arc, ok := g.Arc(r.Nodes[i-1], r.Nodes[i]); ok {
			prefixDistance += arc.Distance
		}
	}
	nodes := append(slices.Clone(r.Nodes[:p+1]), next.Nodes[1:]...)
	arrivals := append(slices.Clone(r.Arrivals[:p+1]), next.Arrivals[1:]...)
	for i := 1; i < len(arrivals); i++ {
		if arrivals[i].Before(arrivals[i-1]) {
			arrivals[i] = arrivals[i-1]
		}
	}
	r.Nodes, r.Arrivals = nodes, arrivals
	r.HospitalID = next.HospitalID
	r.ETA = next.ETA
	if last := arrivals[len(arrivals)-1]; r.ETA.Before(last) {
		r.ETA = last
	}
	r.Cost = r.ETA.Sub(r.CreatedAt).Seconds()
	r.Distance = prefixDistance + next.Distance

	rt.resetWindows(p+1, m.ctx.RuntimeConfig().PassTime)
	rt.snapshotDensity(g)
	upcoming := rt.upcoming()
	for id := range rt.deferredBy {
		if _, ok := upcoming[id]; !ok {
			delete(rt.deferredBy, id)
		}
	}

	log.Infof("route %s replanned (%s): %v -> %v", r.ID, trigger, before, r.Nodes)
	m.recordRoute(rt)
	m.event(entity.EventRouteReplanned, r.ID, entity.SeverityInfo, now, trigger,
		map[string]any{"before": before, "after": slices.Clone(r.Nodes), "hospital_id": r.HospitalID})
}
