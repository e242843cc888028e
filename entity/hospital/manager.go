package hospital

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb/geo"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// 每纬度对应的公里数
const kmPerDegree = 111.32

type indexedHospital struct {
	h    *entity.Hospital
	rect rtreego.Rect
}

func (i *indexedHospital) Bounds() rtreego.Rect {
	return i.rect
}

// HospitalManager 医院目录
// 功能：提供医院查询与附近医院的空间检索；初始化后只读
type HospitalManager struct {
	ctx entity.ITaskContext

	data      map[string]*entity.Hospital
	hospitals []*entity.Hospital // 按ID排序
	index     *rtreego.Rtree
}

func NewManager(ctx entity.ITaskContext) *HospitalManager {
	return &HospitalManager{
		ctx:       ctx,
		data:      make(map[string]*entity.Hospital),
		hospitals: make([]*entity.Hospital, 0),
		index:     rtreego.NewTree(2, 25, 50),
	}
}

// Init 初始化医院目录并建立空间索引
func (m *HospitalManager) Init(hospitals []entity.Hospital) error {
	m.hospitals = lo.Map(hospitals, func(h entity.Hospital, _ int) *entity.Hospital { return &h })
	sort.Slice(m.hospitals, func(i, j int) bool { return m.hospitals[i].ID < m.hospitals[j].ID })
	m.data = lo.SliceToMap(m.hospitals, func(h *entity.Hospital) (string, *entity.Hospital) {
		return h.ID, h
	})
	m.index = rtreego.NewTree(2, 25, 50)
	for _, h := range m.hospitals {
		rect, err := rtreego.NewRect(rtreego.Point{h.Location.Longitude, h.Location.Latitude}, []float64{1e-9, 1e-9})
		if err != nil {
			return fmt.Errorf("hospital %s: %w", h.ID, err)
		}
		m.index.Insert(&indexedHospital{h: h, rect: rect})
	}
	log.Infof("init %d hospitals", len(m.hospitals))
	return nil
}

// Get 根据ID获取医院，不存在返回ErrNotFound
func (m *HospitalManager) Get(id string) (entity.Hospital, error) {
	if h, ok := m.data[id]; !ok {
		return entity.Hospital{}, fmt.Errorf("%w: hospital %s", entity.ErrNotFound, id)
	} else {
		return *h, nil
	}
}

// List 所有医院（按ID排序）
func (m *HospitalManager) List() []entity.Hospital {
	return lo.Map(m.hospitals, func(h *entity.Hospital, _ int) entity.Hospital { return *h })
}

// Nearby 半径内的医院
// 参数：loc-中心坐标，radiusKm-半径（公里），limit-最多返回数量（<=0不限）
// 返回：按球面距离升序排列，距离相同按ID
// 算法说明：先用经纬度包围盒在rtree中粗筛，再按haversine距离精确过滤
func (m *HospitalManager) Nearby(loc entity.Location, radiusKm float64, limit int) []entity.HospitalDistance {
	if radiusKm <= 0 {
		return []entity.HospitalDistance{}
	}
	dLat := radiusKm / kmPerDegree
	dLon := radiusKm / (kmPerDegree * math.Max(math.Cos(loc.Latitude*math.Pi/180), 1e-6))
	bb, err := rtreego.NewRect(
		rtreego.Point{loc.Longitude - dLon, loc.Latitude - dLat},
		[]float64{2 * dLon, 2 * dLat},
	)
	if err != nil {
		log.Errorf("bad search box around %v: %v", loc, err)
		return []entity.HospitalDistance{}
	}
	res := make([]entity.HospitalDistance, 0)
	for _, s := range m.index.SearchIntersect(bb) {
		h := s.(*indexedHospital).h
		d := geo.Distance(loc.Point(), h.Location.Point()) / 1000
		if d <= radiusKm {
			res = append(res, entity.HospitalDistance{Hospital: *h, Distance: d})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Distance != res[j].Distance {
			return res[i].Distance < res[j].Distance
		}
		return res[i].Hospital.ID < res[j].Hospital.ID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}
