package corridor

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/container"
)

// OperatorPrefix 人工接管持有者ID的前缀
const OperatorPrefix = "operator:"

// CorridorManager 绿波走廊协调器
// 功能：将紧急路线转换为按时间窗口施加/解除的路口接管，并随时间与路况保持一致
// 说明：
// 1. 唯一的tick协程持有写锁推进所有路线；查询持有读锁
// 2. 路线计算在锁外基于路网快照进行
// 3. 取消、进度、到达确认与人工接管经由命令队列在下一个tick开始时执行
type CorridorManager struct {
	ctx    entity.ITaskContext
	policy IPriorityPolicy

	mtx     sync.RWMutex
	data    map[string]*routeRuntime                   // 路线ID->路线（含保留期内的终结路线）
	routes  *container.IncrementalArray[*routeRuntime] // 未终结的路线，按准入顺序
	retired []*routeRuntime

	queue chan *command

	reqMtx   sync.Mutex
	requests map[string]*requestEntry
}

// NewManager 创建协调器
func NewManager(ctx entity.ITaskContext) *CorridorManager {
	rc := ctx.RuntimeConfig()
	policy, err := NewPolicy(rc.PriorityPolicy)
	if err != nil {
		log.Panicf("%v", err)
	}
	return &CorridorManager{
		ctx:      ctx,
		policy:   policy,
		data:     make(map[string]*routeRuntime),
		routes:   container.NewIncrementalArray[*routeRuntime](),
		retired:  make([]*routeRuntime, 0),
		queue:    make(chan *command, rc.QueueSize),
		requests: make(map[string]*requestEntry),
	}
}

// Tick 推进一步
// 功能：执行积压命令，对每条未终结路线处理生命周期、重规划与接管窗口，清理过期数据
// 说明：由tick协程调用，路口定时切换（AdvanceAll）应在此之前完成
func (m *CorridorManager) Tick(now time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.routes.Prepare()
	m.drain(now)
	for _, rt := range m.routes.Data() {
		m.step(rt, now)
	}
	m.prune(now)
}

// step 推进单条路线
func (m *CorridorManager) step(rt *routeRuntime, now time.Time) {
	r := rt.route
	if r.Status.Terminal() {
		return
	}
	rc := m.ctx.RuntimeConfig()
	if d := now.Sub(rt.lastProgress); d > rc.RouteTimeout {
		m.retire(rt, entity.RouteExpired, now, fmt.Sprintf("no progress for %v", d))
		return
	}
	if d := now.Sub(r.CreatedAt); d > rc.MaxRouteLifetime {
		m.retire(rt, entity.RouteExpired, now, fmt.Sprintf("lifetime %v exceeded", d))
		return
	}

	m.maybeReplan(rt, now)

	upcoming := rt.upcoming()
	// 已通过或已不在路线上的路口
	for _, id := range ownedIDs(rt) {
		if _, ok := upcoming[id]; !ok {
			m.release(rt, id, now)
		}
	}
	for k := rt.passed + 1; k < len(r.Nodes); k++ {
		id := r.Nodes[k]
		if upcoming[id] != k {
			continue
		}
		start, end := rt.window(k, rc.LeadTime)
		_, owned := rt.owned[id]
		switch {
		case now.Before(start):
		case now.Before(end):
			m.acquire(rt, k, now)
		case owned:
			m.release(rt, id, now)
		}
	}

	if !now.Before(rt.finalEnd()) {
		m.retire(rt, entity.RouteCompleted, now, "final window passed")
	}
}

func ownedIDs(rt *routeRuntime) []string {
	ids := lo.Keys(rt.owned)
	sort.Strings(ids)
	return ids
}

// expiry 窗口结束时刻对应的接管到期时刻
// 说明：晚于窗口结束一个tick间隔，窗口结束时由协调器解除
func (m *CorridorManager) expiry(windowEnd time.Time) time.Time {
	return windowEnd.Add(m.ctx.RuntimeConfig().TickInterval)
}

func overrideReason(rt *routeRuntime) string {
	return "emergency " + string(rt.route.VehicleType)
}

// acquire 在窗口内为路线施加（或续期）接管
// 说明：已持有时重复施加只延长到期时间；被占用时交由仲裁策略处理
func (m *CorridorManager) acquire(rt *routeRuntime, k int, now time.Time) {
	reg := m.ctx.SignalRegistry()
	id := rt.route.Nodes[k]
	err := reg.ApplyOverride(id, overrideReason(rt), m.expiry(rt.windowEnd[k]), rt.route.ID, now)
	switch {
	case err == nil:
		m.own(rt, id, now)
	case errors.Is(err, entity.ErrConflict):
		if _, ok := rt.owned[id]; ok {
			delete(rt.owned, id)
			log.Warnf("route %s lost override on %s", rt.route.ID, id)
			m.event(entity.EventOverrideLost, id, entity.SeverityWarning, now,
				fmt.Sprintf("route %s lost its override", rt.route.ID),
				map[string]any{"route_id": rt.route.ID})
		}
		m.resolve(rt, k, now)
	default:
		log.Errorf("apply override on %s for route %s failed: %v", id, rt.route.ID, err)
	}
}

// own 记录路线取得接管
func (m *CorridorManager) own(rt *routeRuntime, id string, now time.Time) {
	if _, ok := rt.owned[id]; ok {
		return
	}
	rt.owned[id] = struct{}{}
	delete(rt.deferredBy, id)
	rt.markApplied(id)
	if rt.route.Status == entity.RoutePlanned {
		rt.route.Status = entity.RouteActive
		log.Infof("route %s active", rt.route.ID)
		m.recordRoute(rt)
		m.event(entity.EventRouteStatus, rt.route.ID, entity.SeverityInfo, now,
			"route active", map[string]any{"status": rt.route.Status})
	}
}

// resolve 仲裁路口争用
// 算法说明：
// 1. 人工接管总是胜出，路线的窗口推迟到人工接管结束后再加通过时间
// 2. 持有者为路线时按策略比较双方在该路口的诉求，相同时持有者保留
// 3. 挑战者胜出：原子移交接管，败者在该路口的窗口推迟到胜者窗口结束后再加通过时间
// 4. 持有者胜出：挑战者的窗口同样推迟，从不丢弃
func (m *CorridorManager) resolve(rt *routeRuntime, k int, now time.Time) {
	reg := m.ctx.SignalRegistry()
	id := rt.route.Nodes[k]
	holder, ok := reg.Owner(id, now)
	if !ok {
		// 已被看门狗回收，下一个tick重试
		return
	}
	if strings.HasPrefix(holder, OperatorPrefix) {
		if s, err := reg.Get(id); err == nil && s.Override != nil {
			m.deferTo(rt, k, holder, s.Override.Expiry, now)
		}
		return
	}
	h, ok := m.data[holder]
	if !ok || h.route.Status.Terminal() {
		if s, err := reg.Get(id); err == nil && s.Override != nil {
			m.deferTo(rt, k, holder, s.Override.Expiry, now)
		}
		return
	}
	hk, needed := h.upcoming()[id]
	if needed {
		challenger := claim{RouteID: rt.route.ID, Vehicle: rt.route.VehicleType, Arrival: rt.route.Arrivals[k]}
		incumbent := claim{RouteID: h.route.ID, Vehicle: h.route.VehicleType, Arrival: h.route.Arrivals[hk]}
		if !m.policy.Prefer(challenger, incumbent) {
			m.deferTo(rt, k, holder, h.windowEnd[hk], now)
			return
		}
	}

	end := rt.windowEnd[k]
	if err := reg.TransferOverride(id, holder, rt.route.ID, overrideReason(rt), m.expiry(end), now); err != nil {
		log.Warnf("transfer override on %s from %s to %s failed: %v", id, holder, rt.route.ID, err)
		return
	}
	delete(h.owned, id)
	m.own(rt, id, now)
	data := map[string]any{"winner": rt.route.ID, "loser": holder, "policy": m.policy.Name()}
	if needed {
		deferred := end.Add(m.ctx.RuntimeConfig().PassTime)
		if deferred.After(h.windowEnd[hk]) {
			h.windowEnd[hk] = deferred
		}
		h.deferredBy[id] = rt.route.ID
		data["deferred_until"] = h.windowEnd[hk]
	}
	log.Infof("conflict on %s: route %s takes over from %s", id, rt.route.ID, holder)
	m.event(entity.EventOverrideConflict, id, entity.SeverityInfo, now,
		fmt.Sprintf("route %s takes over from %s", rt.route.ID, holder), data)
}

// deferTo 败者让行：窗口结束时刻推迟到胜者结束后再加通过时间
func (m *CorridorManager) deferTo(rt *routeRuntime, k int, holder string, holderEnd time.Time, now time.Time) {
	id := rt.route.Nodes[k]
	deferred := holderEnd.Add(m.ctx.RuntimeConfig().PassTime)
	if deferred.After(rt.windowEnd[k]) {
		rt.windowEnd[k] = deferred
	}
	if rt.deferredBy[id] == holder {
		return
	}
	rt.deferredBy[id] = holder
	log.Infof("conflict on %s: route %s yields to %s until %v", id, rt.route.ID, holder, rt.windowEnd[k])
	m.event(entity.EventOverrideConflict, id, entity.SeverityInfo, now,
		fmt.Sprintf("route %s yields to %s", rt.route.ID, holder),
		map[string]any{
			"winner": holder, "loser": rt.route.ID,
			"policy": m.policy.Name(), "deferred_until": rt.windowEnd[k],
		})
}

// release 解除路线在路口的接管
// 说明：ErrNotOwner是良性的（接管已被移交或已过期回收）
func (m *CorridorManager) release(rt *routeRuntime, id string, now time.Time) {
	delete(rt.owned, id)
	reg := m.ctx.SignalRegistry()
	err := reg.ClearOverride(id, rt.route.ID, now)
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrNotOwner):
		if holder, ok := reg.Owner(id, now); ok {
			log.Debugf("route %s no longer owns %s (held by %s)", rt.route.ID, id, holder)
			m.event(entity.EventOverrideNotOwner, id, entity.SeverityInfo, now,
				fmt.Sprintf("route %s no longer owns the override", rt.route.ID),
				map[string]any{"route_id": rt.route.ID, "holder": holder})
		}
	default:
		log.Errorf("clear override on %s for route %s failed: %v", id, rt.route.ID, err)
	}
}

// retire 路线进入终结状态，解除其持有的全部接管
func (m *CorridorManager) retire(rt *routeRuntime, status entity.RouteStatus, now time.Time, reason string) {
	for _, id := range ownedIDs(rt) {
		m.release(rt, id, now)
	}
	rt.route.Status = status
	rt.retiredAt = now
	m.routes.Remove(rt)
	m.retired = append(m.retired, rt)
	m.recordRoute(rt)
	severity := entity.SeverityInfo
	if status == entity.RouteExpired {
		severity = entity.SeverityWarning
	}
	log.Infof("route %s %s: %s", rt.route.ID, status, reason)
	m.event(entity.EventRouteStatus, rt.route.ID, severity, now,
		fmt.Sprintf("route %s: %s", strings.ToLower(string(status)), reason),
		map[string]any{"status": status})
}

// prune 清理保留期外的终结路线与去重记录
func (m *CorridorManager) prune(now time.Time) {
	rc := m.ctx.RuntimeConfig()
	kept := m.retired[:0]
	for _, rt := range m.retired {
		if now.Sub(rt.retiredAt) > rc.RetiredRouteTTL {
			delete(m.data, rt.route.ID)
		} else {
			kept = append(kept, rt)
		}
	}
	clear(m.retired[len(kept):])
	m.retired = kept
	m.pruneRequests(now)
}

// admit 准入新路线
func (m *CorridorManager) admit(rt *routeRuntime) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.data[rt.route.ID] = rt
	m.routes.Add(rt)
	m.recordRoute(rt)
}

// GetRoute 路线视图，不存在（或已超出保留期）返回ErrNotFound
func (m *CorridorManager) GetRoute(id string) (RouteView, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	rt, ok := m.data[id]
	if !ok {
		return RouteView{}, fmt.Errorf("%w: route %s", entity.ErrNotFound, id)
	}
	return rt.view(m.ctx.RuntimeConfig().LeadTime), nil
}

// ListRoutes 所有路线视图，按创建时间排序
// 参数：includeRetired-是否包含保留期内的终结路线
func (m *CorridorManager) ListRoutes(includeRetired bool) []RouteView {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	lead := m.ctx.RuntimeConfig().LeadTime
	res := make([]RouteView, 0, len(m.data))
	for _, rt := range m.data {
		if includeRetired || !rt.route.Status.Terminal() {
			res = append(res, rt.view(lead))
		}
	}
	slices.SortFunc(res, func(a, b RouteView) int {
		if c := a.Route.CreatedAt.Compare(b.Route.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Route.ID, b.Route.ID)
	})
	return res
}

// Stats 各状态的路线数
func (m *CorridorManager) Stats() map[entity.RouteStatus]int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	res := make(map[entity.RouteStatus]int)
	for _, rt := range m.data {
		res[rt.route.Status]++
	}
	return res
}

// timeSaved 预计节省时间：每个协调路口免去的平均红灯等待（红灯时长的一半）
func (m *CorridorManager) timeSaved(ids []string) float64 {
	reg := m.ctx.SignalRegistry()
	saved := 0.0
	for _, id := range ids {
		if s, err := reg.Get(id); err == nil {
			saved += s.Red.Seconds() / 2
		}
	}
	return saved
}

// recordRoute 写出emergency_routes记录
func (m *CorridorManager) recordRoute(rt *routeRuntime) {
	rec := m.ctx.Recorder()
	if rec == nil {
		return
	}
	reg := m.ctx.SignalRegistry()
	r := rt.route
	row := entity.RouteRecord{
		RouteID:            r.ID,
		VehicleType:        r.VehicleType,
		HospitalID:         r.HospitalID,
		RouteWaypoints:     make([]entity.Waypoint, 0, len(r.Nodes)),
		SignalsCoordinated: append([]string{}, rt.applied...),
		TotalDistance:      r.Distance,
		EstimatedDuration:  int32(math.Round(r.Cost)),
		TimeSaved:          int32(math.Round(m.timeSaved(rt.applied))),
		Status:             r.Status,
		CreatedAt:          r.CreatedAt,
	}
	for k, id := range r.Nodes {
		wp := entity.Waypoint{SignalID: id, Arrival: r.Arrivals[k]}
		if s, err := reg.Get(id); err == nil {
			wp.Location = s.Location
		}
		row.RouteWaypoints = append(row.RouteWaypoints, wp)
	}
	if len(row.RouteWaypoints) > 0 {
		row.StartLocation = row.RouteWaypoints[0].Location
	}
	if h, err := m.ctx.HospitalManager().Get(r.HospitalID); err == nil {
		row.EndLocation = h.Location
	}
	if r.Status.Terminal() {
		row.ActualDuration = int32(math.Round(rt.retiredAt.Sub(r.CreatedAt).Seconds()))
		if r.Status == entity.RouteCompleted {
			completed := rt.retiredAt
			row.CompletedAt = &completed
		}
	}
	rec.RecordRoute(row)
}

// event 写出系统事件
func (m *CorridorManager) event(typ, source string, severity entity.Severity, now time.Time, msg string, data map[string]any) {
	rec := m.ctx.Recorder()
	if rec == nil {
		return
	}
	rec.RecordSystemEvent(entity.SystemEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    source,
		Severity:  severity,
		Message:   msg,
		Data:      data,
		Timestamp: now,
	})
}
