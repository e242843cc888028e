package corridor

import (
	"fmt"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
)

// claim 一条路线对某个路口的接管诉求
type claim struct {
	RouteID string
	Vehicle entity.VehicleType
	Arrival time.Time // 在该路口的预计到达时刻
}

// IPriorityPolicy 路口争用的仲裁策略
type IPriorityPolicy interface {
	Name() string
	// 挑战者是否胜过当前持有者，相同时持有者保留
	Prefer(challenger, holder claim) bool
}

// earliestArrival 预计到达早者优先
type earliestArrival struct{}

func (earliestArrival) Name() string { return config.PolicyEarliestArrival }

func (earliestArrival) Prefer(challenger, holder claim) bool {
	return challenger.Arrival.Before(holder.Arrival)
}

// vehicleRank 车辆类型优先级：消防 > 警车 > 救护车
var vehicleRank = map[entity.VehicleType]int{
	entity.VehicleFireTruck: 3,
	entity.VehiclePolice:    2,
	entity.VehicleAmbulance: 1,
}

// vehicleType 按车辆类型优先，同类型时预计到达早者优先
type vehicleType struct{}

func (vehicleType) Name() string { return config.PolicyVehicleType }

func (vehicleType) Prefer(challenger, holder claim) bool {
	a, b := vehicleRank[challenger.Vehicle], vehicleRank[holder.Vehicle]
	if a != b {
		return a > b
	}
	return challenger.Arrival.Before(holder.Arrival)
}

// NewPolicy 根据名称创建仲裁策略
func NewPolicy(name string) (IPriorityPolicy, error) {
	switch name {
	case "", config.PolicyEarliestArrival:
		return earliestArrival{}, nil
	case config.PolicyVehicleType:
		return vehicleType{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown priority policy %q", entity.ErrInvalidInput, name)
	}
}
