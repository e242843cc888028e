package road

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

// RoadManager 路网管理器
// 功能：持有路网拓扑与实时拥堵系数，向导航模块提供只读快照
// 说明：拓扑在Init后不变；拥堵系数只由外部路况更新修改
type RoadManager struct {
	ctx entity.ITaskContext

	mtx       sync.RWMutex
	data      map[entity.EdgeKey]*Road
	roads     []*Road            // 按键排序
	incidence map[string][]*Road // 路口->相邻道路
}

// NewManager 创建路网管理器
func NewManager(ctx entity.ITaskContext) *RoadManager {
	return &RoadManager{
		ctx:       ctx,
		data:      make(map[entity.EdgeKey]*Road),
		roads:     make([]*Road, 0),
		incidence: make(map[string][]*Road),
	}
}

// Init 初始化路网
// 参数：signals-路口列表（无相邻道路的路口同样出现在快照中），edges-道路列表
func (m *RoadManager) Init(signals []input.Signal, edges []input.Edge) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.roads = lo.Map(edges, func(e input.Edge, _ int) *Road { return newRoad(e) })
	sort.Slice(m.roads, func(i, j int) bool {
		a, b := m.roads[i].key, m.roads[j].key
		return a.A < b.A || (a.A == b.A && a.B < b.B)
	})
	m.data = lo.SliceToMap(m.roads, func(r *Road) (entity.EdgeKey, *Road) {
		return r.key, r
	})
	m.incidence = make(map[string][]*Road, len(signals))
	for _, s := range signals {
		m.incidence[s.ID] = make([]*Road, 0)
	}
	for _, r := range m.roads {
		m.incidence[r.key.A] = append(m.incidence[r.key.A], r)
		m.incidence[r.key.B] = append(m.incidence[r.key.B], r)
	}
	log.Infof("init %d roads over %d signals", len(m.roads), len(m.incidence))
}

// Snapshot 当前路网的只读快照
// 说明：只在复制期间持有读锁，Dijkstra在快照上运行不持有任何锁；邻接表按目的路口ID排序
func (m *RoadManager) Snapshot() *entity.GraphSnapshot {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	adjacency := make(map[string][]entity.Arc, len(m.incidence))
	for id, roads := range m.incidence {
		arcs := make([]entity.Arc, 0, len(roads))
		for _, r := range roads {
			arcs = append(arcs, entity.Arc{
				To:       r.other(id),
				Weight:   r.weight(),
				Distance: r.distance,
				Density:  r.density,
			})
		}
		sort.Slice(arcs, func(i, j int) bool { return arcs[i].To < arcs[j].To })
		adjacency[id] = arcs
	}
	return entity.NewGraphSnapshot(adjacency)
}

func (m *RoadManager) HasEdge(a, b string) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	_, ok := m.data[entity.NewEdgeKey(a, b)]
	return ok
}

// Density 读取道路的拥堵系数
func (m *RoadManager) Density(a, b string) (float64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	r, ok := m.data[entity.NewEdgeKey(a, b)]
	if !ok {
		return 0, fmt.Errorf("%w: road %s-%s", entity.ErrNotFound, a, b)
	}
	return r.density, nil
}

// SetDensity 外部路况更新拥堵系数
// 返回：系数小于1、非有限值或使通行权重溢出时返回ErrInvalidInput，道路不存在返回ErrNotFound
func (m *RoadManager) SetDensity(a, b string, factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor < 1 {
		return fmt.Errorf("%w: density factor must be >= 1, got %v", entity.ErrInvalidInput, factor)
	}
	m.mtx.Lock()
	r, ok := m.data[entity.NewEdgeKey(a, b)]
	if !ok {
		m.mtx.Unlock()
		return fmt.Errorf("%w: road %s-%s", entity.ErrNotFound, a, b)
	}
	if w := r.travelTime * factor; math.IsInf(w, 0) || math.IsNaN(w) {
		m.mtx.Unlock()
		return fmt.Errorf("%w: density factor %v overflows travel time of road %s-%s", entity.ErrInvalidInput, factor, a, b)
	}
	old := r.density
	r.density = factor
	m.mtx.Unlock()

	log.Debugf("road %s-%s density %v -> %v", a, b, old, factor)
	if rec := m.ctx.Recorder(); rec != nil {
		rec.RecordSystemEvent(entity.SystemEvent{
			ID:        uuid.NewString(),
			Type:      entity.EventDensityUpdated,
			Source:    r.key.A + "-" + r.key.B,
			Severity:  entity.SeverityInfo,
			Message:   fmt.Sprintf("density %v -> %v", old, factor),
			Data:      map[string]any{"from": r.key.A, "to": r.key.B, "old": old, "new": factor},
			Timestamp: m.ctx.Clock().Now(),
		})
	}
	return nil
}

// NodeDensity 路口相邻道路拥堵系数的平均值，无相邻道路时为1
func (m *RoadManager) NodeDensity(id string) float64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	roads := m.incidence[id]
	if len(roads) == 0 {
		return 1
	}
	return lo.SumBy(roads, func(r *Road) float64 { return r.density }) / float64(len(roads))
}

// List 所有道路状态
func (m *RoadManager) List() []EdgeStatus {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return lo.Map(m.roads, func(r *Road, _ int) EdgeStatus { return r.status() })
}
