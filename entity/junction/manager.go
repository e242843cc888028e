package junction

import (
	"fmt"
	"math"
	"sort"
	"time"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb/geo"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

// nearestCandidates rtree按包围盒距离取出的候选数，再按球面距离精选
const nearestCandidates = 5

type indexedJunction struct {
	j    *Junction
	rect rtreego.Rect
}

func (i *indexedJunction) Bounds() rtreego.Rect {
	return i.rect
}

// 信号注册表
// 功能：持有全部路口的状态机，是路口信号状态的唯一权威
type JunctionManager struct {
	ctx entity.ITaskContext

	data      map[string]*Junction
	junctions []*Junction // 按ID排序
	index     *rtreego.Rtree
}

// NewManager 创建信号注册表
func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:       ctx,
		data:      make(map[string]*Junction),
		junctions: make([]*Junction, 0),
		index:     rtreego.NewTree(2, 25, 50),
	}
}

// Init 初始化所有路口
// 功能：根据输入数据创建路口状态机并建立空间索引
// 参数：signals-路口列表，now-初始相位的进入时刻
// 说明：路口未指定配时时使用全局默认配时
func (m *JunctionManager) Init(signals []input.Signal, now time.Time) error {
	rc := m.ctx.RuntimeConfig()
	junctions := make([]*Junction, 0, len(signals))
	for _, s := range signals {
		timing := trafficlight.Timing{Green: rc.Green, Yellow: rc.Yellow, Red: rc.Red}
		if s.Green > 0 {
			timing.Green = seconds(s.Green)
		}
		if s.Yellow > 0 {
			timing.Yellow = seconds(s.Yellow)
		}
		if s.Red > 0 {
			timing.Red = seconds(s.Red)
		}
		j, err := newJunction(s, timing, now)
		if err != nil {
			return err
		}
		junctions = append(junctions, j)
	}
	sort.Slice(junctions, func(a, b int) bool { return junctions[a].id < junctions[b].id })
	m.junctions = junctions
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (string, *Junction) {
		return j.id, j
	})
	if len(m.data) != len(m.junctions) {
		return fmt.Errorf("%w: duplicated signal ids", entity.ErrInvalidInput)
	}
	m.index = rtreego.NewTree(2, 25, 50)
	for _, j := range m.junctions {
		rect, err := rtreego.NewRect(rtreego.Point{j.location.Longitude, j.location.Latitude}, []float64{1e-9, 1e-9})
		if err != nil {
			return err
		}
		m.index.Insert(&indexedJunction{j: j, rect: rect})
	}
	log.Infof("init %d signals", len(m.junctions))
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetOrError 根据ID获取路口，不存在返回ErrNotFound
func (m *JunctionManager) GetOrError(id string) (*Junction, error) {
	if j, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("%w: signal %s", entity.ErrNotFound, id)
	} else {
		return j, nil
	}
}

func (m *JunctionManager) Has(id string) bool {
	_, ok := m.data[id]
	return ok
}

// Get 路口状态快照
func (m *JunctionManager) Get(id string) (entity.IntersectionState, error) {
	j, err := m.GetOrError(id)
	if err != nil {
		return entity.IntersectionState{}, err
	}
	return j.State(), nil
}

// List 所有路口状态快照
func (m *JunctionManager) List() []entity.IntersectionState {
	return lo.Map(m.junctions, func(j *Junction, _ int) entity.IntersectionState {
		return j.State()
	})
}

func (m *JunctionManager) Owner(id string, now time.Time) (string, bool) {
	j, ok := m.data[id]
	if !ok {
		return "", false
	}
	return j.Owner(now)
}

// Nearest 距离坐标最近的路口
// 算法说明：先用rtree取出若干候选，再按球面距离选出最近者（距离相同取较小ID）
func (m *JunctionManager) Nearest(loc entity.Location) (string, error) {
	if len(m.junctions) == 0 {
		return "", fmt.Errorf("%w: no signals", entity.ErrNotFound)
	}
	candidates := m.index.NearestNeighbors(nearestCandidates, rtreego.Point{loc.Longitude, loc.Latitude})
	best, bestDist := "", math.Inf(1)
	for _, c := range candidates {
		if c == nil {
			continue
		}
		j := c.(*indexedJunction).j
		d := geo.Distance(loc.Point(), j.location.Point())
		if d < bestDist || (d == bestDist && j.id < best) {
			best, bestDist = j.id, d
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no signal near %v", entity.ErrNotFound, loc)
	}
	return best, nil
}

// emit 补全拥堵系数后写出历史记录
func (m *JunctionManager) emit(r *entity.SignalStateRecord) {
	if r == nil {
		return
	}
	if roads := m.ctx.RoadManager(); roads != nil {
		r.TrafficDensity = roads.NodeDensity(r.SignalID)
	}
	if rec := m.ctx.Recorder(); rec != nil {
		rec.RecordSignalState(*r)
	}
}

// Advance 对单个路口执行定时相位切换
func (m *JunctionManager) Advance(id string, now time.Time) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	m.emit(j.advance(now))
	return nil
}

// AdvanceAll 并行对所有路口执行定时相位切换
func (m *JunctionManager) AdvanceAll(now time.Time) {
	parallel.GoFor(m.junctions, func(j *Junction) { m.emit(j.advance(now)) })
}

// ApplyOverride 施加紧急接管
// 返回：其他持有者的有效接管存在时返回ErrConflict，注册表自身从不替换持有者
func (m *JunctionManager) ApplyOverride(id, reason string, expiry time.Time, owner string, now time.Time) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	r, err := j.applyOverride(reason, expiry, owner, now)
	if err != nil {
		return err
	}
	if r != nil {
		log.Debugf("signal %s overridden by %s until %v", id, owner, expiry)
	}
	m.emit(r)
	return nil
}

// ClearOverride 解除接管，仅持有者可调用，否则返回ErrNotOwner
func (m *JunctionManager) ClearOverride(id, owner string, now time.Time) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	r, err := j.clearOverride(owner, now)
	if err != nil {
		return err
	}
	log.Debugf("signal %s released by %s", id, owner)
	m.emit(r)
	return nil
}

// TransferOverride 原子移交接管
func (m *JunctionManager) TransferOverride(id, from, to, reason string, expiry time.Time, now time.Time) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	r, err := j.transferOverride(from, to, reason, expiry, now)
	if err != nil {
		return err
	}
	log.Debugf("signal %s handed over from %s to %s until %v", id, from, to, expiry)
	m.emit(r)
	return nil
}

// ExpireStaleOverrides 看门狗扫描
// 功能：并行清除所有已过期的接管，与持有者是否请求解除无关
// 返回：被清除的接管（按路口ID排序）
func (m *JunctionManager) ExpireStaleOverrides(now time.Time) []entity.ExpiredOverride {
	results := parallel.GoMap(m.junctions, func(j *Junction) *entity.ExpiredOverride {
		e, r := j.expire(now)
		m.emit(r)
		return e
	})
	expired := make([]entity.ExpiredOverride, 0)
	for _, e := range results {
		if e != nil {
			log.Warnf("watchdog cleared stale override on %s held by %s (expired at %v)", e.SignalID, e.Owner, e.Expiry)
			expired = append(expired, *e)
		}
	}
	return expired
}

// SetTiming 修改路口配时，下一次相位切换时生效
func (m *JunctionManager) SetTiming(id string, green, yellow, red time.Duration) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	return j.program.Set(trafficlight.Timing{Green: green, Yellow: yellow, Red: red})
}
