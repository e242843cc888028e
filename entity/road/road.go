package road

import (
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

// Road 两个路口之间的无向道路
// 说明：density由RoadManager的锁保护，其余字段初始化后只读
type Road struct {
	key        entity.EdgeKey
	distance   float64 // km
	travelTime float64 // 基础通行时间（秒）
	density    float64 // 拥堵系数，>=1
}

func newRoad(base input.Edge) *Road {
	density := base.Density
	if density < 1 {
		density = 1
	}
	return &Road{
		key:        entity.NewEdgeKey(base.From, base.To),
		distance:   base.Distance,
		travelTime: base.TravelTime,
		density:    density,
	}
}

// weight 通行权重 = 基础通行时间 × 拥堵系数
func (r *Road) weight() float64 {
	return r.travelTime * r.density
}

// other 道路的另一端
func (r *Road) other(id string) string {
	if r.key.A == id {
		return r.key.B
	}
	return r.key.A
}

// EdgeStatus 道路状态
type EdgeStatus struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Distance   float64 `json:"distance"`
	TravelTime float64 `json:"travel_time"`
	Density    float64 `json:"density"`
	Weight     float64 `json:"weight"`
}

func (r *Road) status() EdgeStatus {
	return EdgeStatus{
		From:       r.key.A,
		To:         r.key.B,
		Distance:   r.distance,
		TravelTime: r.travelTime,
		Density:    r.density,
		Weight:     r.weight(),
	}
}
