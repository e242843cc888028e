package corridor

import (
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/container"
)

// routeRuntime 路线的协调状态
// 说明：所有字段由CorridorManager.mtx保护
type routeRuntime struct {
	container.IncrementalItemBase

	route     *entity.EmergencyRoute
	windowEnd []time.Time // 各路口接管窗口的结束时刻（可因让行而推迟）

	owned      map[string]struct{}        // 当前持有接管的路口
	deferredBy map[string]string          // 路口->本路线让行的持有者，用于事件去重
	applied    []string                   // 曾经成功接管过的路口（按首次接管顺序）
	density    map[entity.EdgeKey]float64 // 规划时沿途道路的拥堵系数

	passed       int       // 最近通过的路口下标，-1表示尚无进度
	lastProgress time.Time // 最近一次进度确认
	deviated     bool      // 实际进度偏离预测超过容差
	retiredAt    time.Time
}

func newRouteRuntime(r *entity.EmergencyRoute, pass time.Duration, g *entity.GraphSnapshot) *routeRuntime {
	rt := &routeRuntime{
		route:        r,
		owned:        make(map[string]struct{}),
		deferredBy:   make(map[string]string),
		applied:      make([]string, 0),
		passed:       -1,
		lastProgress: r.CreatedAt,
	}
	rt.resetWindows(0, pass)
	rt.snapshotDensity(g)
	return rt
}

// resetWindows 从下标from起按预计到达时刻重建窗口结束时刻
func (rt *routeRuntime) resetWindows(from int, pass time.Duration) {
	ends := make([]time.Time, len(rt.route.Nodes))
	copy(ends, rt.windowEnd[:min(from, len(rt.windowEnd))])
	for k := from; k < len(ends); k++ {
		ends[k] = rt.route.Arrivals[k].Add(pass)
	}
	rt.windowEnd = ends
}

// snapshotDensity 记录沿途道路在规划时的拥堵系数
func (rt *routeRuntime) snapshotDensity(g *entity.GraphSnapshot) {
	rt.density = make(map[entity.EdgeKey]float64)
	nodes := rt.route.Nodes
	for i := 1; i < len(nodes); i++ {
		if arc, ok := g.Arc(nodes[i-1], nodes[i]); ok {
			rt.density[entity.NewEdgeKey(nodes[i-1], nodes[i])] = arc.Density
		}
	}
}

// window 下标k处的接管窗口[start, end)
func (rt *routeRuntime) window(k int, lead time.Duration) (time.Time, time.Time) {
	return rt.route.Arrivals[k].Add(-lead), rt.windowEnd[k]
}

// upcoming 尚未通过的路口：ID->首次出现的下标
func (rt *routeRuntime) upcoming() map[string]int {
	res := make(map[string]int)
	for k := rt.passed + 1; k < len(rt.route.Nodes); k++ {
		if _, ok := res[rt.route.Nodes[k]]; !ok {
			res[rt.route.Nodes[k]] = k
		}
	}
	return res
}

func (rt *routeRuntime) markApplied(id string) {
	for _, x := range rt.applied {
		if x == id {
			return
		}
	}
	rt.applied = append(rt.applied, id)
}

// finalEnd 最后一个窗口的结束时刻
func (rt *routeRuntime) finalEnd() time.Time {
	return rt.windowEnd[len(rt.windowEnd)-1]
}

// Window 路口接管窗口
type Window struct {
	SignalID string    `json:"signal_id"`
	Arrival  time.Time `json:"arrival"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Owned    bool      `json:"owned"`
}

// RouteView 路线及其协调状态的只读视图
type RouteView struct {
	Route        entity.EmergencyRoute `json:"route"`
	Windows      []Window              `json:"windows"`
	Passed       int                   `json:"passed"`
	Coordinated  []string              `json:"signals_coordinated"`
	LastProgress time.Time             `json:"last_progress"`
}

func (rt *routeRuntime) view(lead time.Duration) RouteView {
	r := *rt.route
	r.Nodes = append([]string(nil), r.Nodes...)
	r.Arrivals = append([]time.Time(nil), r.Arrivals...)
	v := RouteView{
		Route:        r,
		Windows:      make([]Window, len(r.Nodes)),
		Passed:       rt.passed,
		Coordinated:  append([]string(nil), rt.applied...),
		LastProgress: rt.lastProgress,
	}
	for k, id := range r.Nodes {
		start, end := rt.window(k, lead)
		_, owned := rt.owned[id]
		v.Windows[k] = Window{SignalID: id, Arrival: r.Arrivals[k], Start: start, End: end, Owned: owned}
	}
	return v
}
