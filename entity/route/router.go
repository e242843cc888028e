package route

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/container"
)

// shortestPaths 单源最短路结果
type shortestPaths struct {
	cost     map[string]float64 // 累计通行权重（秒）
	distance map[string]float64 // 累计基础距离
	prev     map[string]string
}

// path 从源点到to的路口序列
func (s *shortestPaths) path(to string) []string {
	nodes := []string{to}
	for cur := to; ; {
		p, ok := s.prev[cur]
		if !ok {
			break
		}
		nodes = append(nodes, p)
		cur = p
	}
	slices.Reverse(nodes)
	return nodes
}

// maxCost 可表示为time.Duration的最大通行时间（秒），超过视为不可达
var maxCost = float64(math.MaxInt64 / int64(time.Second))

// reachable 代价为有限值且不超过maxCost
func reachable(c float64) bool {
	return !math.IsNaN(c) && !math.IsInf(c, 0) && c >= 0 && c <= maxCost
}

// dijkstra 在快照上计算单源最短路
// 说明：权重恒为正；代价相同的候选按路口ID出队，邻接表已按ID排序，结果确定
func dijkstra(g *entity.GraphSnapshot, source string) *shortestPaths {
	res := &shortestPaths{
		cost:     map[string]float64{source: 0},
		distance: map[string]float64{source: 0},
		prev:     make(map[string]string),
	}
	done := make(map[string]struct{}, g.Len())
	q := container.NewPriorityQueue(func(a, b string) bool { return a < b })
	q.HeapPush(source, 0)
	for q.Len() > 0 {
		cur, c := q.HeapPop()
		if _, ok := done[cur]; ok {
			continue
		}
		done[cur] = struct{}{}
		for _, arc := range g.Neighbors(cur) {
			if _, ok := done[arc.To]; ok {
				continue
			}
			next := c + arc.Weight
			if !reachable(next) {
				continue
			}
			if old, ok := res.cost[arc.To]; !ok || next < old {
				res.cost[arc.To] = next
				res.distance[arc.To] = res.distance[cur] + arc.Distance
				res.prev[arc.To] = cur
				q.HeapPush(arc.To, next)
			}
		}
	}
	return res
}

// LocalRouter 本地导航
// 功能：在路网快照上为紧急车辆选择医院并计算最短时间路线
// 说明：除只读的医院目录外不持有可变状态，相同输入得到相同结果
type LocalRouter struct {
	ctx entity.ITaskContext
}

func NewLocalRouter(ctx entity.ITaskContext) *LocalRouter {
	return &LocalRouter{ctx: ctx}
}

// candidate 可达的合格医院
type candidate struct {
	h    *entity.Hospital
	tier int
	cost float64
}

// candidates 从source出发可达的合格医院，按偏好档位、代价、医院ID排序
func (l *LocalRouter) candidates(g *entity.GraphSnapshot, source string, vehicleType entity.VehicleType) (*shortestPaths, []candidate, error) {
	tiers, ok := preferences[vehicleType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown vehicle type %q", entity.ErrInvalidInput, vehicleType)
	}
	if !g.Has(source) {
		return nil, nil, fmt.Errorf("%w: signal %s", entity.ErrNotFound, source)
	}
	sp := dijkstra(g, source)
	hospitals := l.ctx.HospitalManager().List()

	res := make([]candidate, 0)
	for i := range hospitals {
		h := &hospitals[i]
		if !eligible(*h) {
			continue
		}
		tier := slices.IndexFunc(tiers, func(t []entity.HospitalType) bool { return matches(t, h.Type) })
		if tier < 0 {
			continue
		}
		c, ok := sp.cost[h.JunctionID]
		if !ok {
			continue
		}
		c += h.AccessTime
		if !reachable(c) {
			continue
		}
		res = append(res, candidate{h: h, tier: tier, cost: c})
	}
	slices.SortFunc(res, func(a, b candidate) int {
		if a.tier != b.tier {
			return a.tier - b.tier
		}
		if a.cost != b.cost {
			if a.cost < b.cost {
				return -1
			}
			return 1
		}
		return strings.Compare(a.h.ID, b.h.ID)
	})
	return sp, res, nil
}

// build 由最短路结果生成前往候选医院的路线
func build(sp *shortestPaths, c candidate, vehicleType entity.VehicleType, now time.Time) *entity.EmergencyRoute {
	nodes := sp.path(c.h.JunctionID)
	arrivals := make([]time.Time, len(nodes))
	for i, n := range nodes {
		arrivals[i] = now.Add(seconds(sp.cost[n]))
	}
	return &entity.EmergencyRoute{
		VehicleType: vehicleType,
		HospitalID:  c.h.ID,
		Nodes:       nodes,
		Arrivals:    arrivals,
		Cost:        c.cost,
		Distance:    sp.distance[c.h.JunctionID],
		ETA:         now.Add(seconds(c.cost)),
		Status:      entity.RoutePlanned,
		CreatedAt:   now,
		LastReplan:  now,
	}
}

// ComputeRoute 计算紧急路线
// 参数：g-路网快照，source-起点路口，vehicleType-车辆类型，now-计算时刻
// 返回：PLANNED状态的路线（未分配ID）；起点不存在返回ErrNotFound，
// 无可达的合格医院返回ErrRouteUnavailable
// 算法说明：
// 1. 从起点运行一次Dijkstra
// 2. 按车辆类型的偏好档位依次筛选合格医院，代价=到挂接路口的通行时间+医院接入时间，无法表示为时长的代价视为不可达
// 3. 档内取代价最小者，代价相同取较小的医院ID；首个有结果的档位即为目标
// 4. 各路口预计到达时刻=now+累计通行时间
func (l *LocalRouter) ComputeRoute(g *entity.GraphSnapshot, source string, vehicleType entity.VehicleType, now time.Time) (*entity.EmergencyRoute, error) {
	sp, cs, err := l.candidates(g, source, vehicleType)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("%w: no eligible hospital reachable from %s for %s", entity.ErrRouteUnavailable, source, vehicleType)
	}
	r := build(sp, cs[0], vehicleType, now)
	log.Debugf("route from %s for %s to %s: %v (cost %.1fs)", source, vehicleType, r.HospitalID, r.Nodes, r.Cost)
	return r, nil
}

// Alternatives 前往其他合格医院的备选路线
// 说明：不含ComputeRoute选中的医院，按与ComputeRoute相同的顺序（偏好档位、代价、ID）返回至多k条
func (l *LocalRouter) Alternatives(g *entity.GraphSnapshot, source string, vehicleType entity.VehicleType, now time.Time, k int) ([]*entity.EmergencyRoute, error) {
	sp, cs, err := l.candidates(g, source, vehicleType)
	if err != nil {
		return nil, err
	}
	res := make([]*entity.EmergencyRoute, 0, k)
	for i := 1; i < len(cs) && len(res) < k; i++ {
		res = append(res, build(sp, cs[i], vehicleType, now))
	}
	return res, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
