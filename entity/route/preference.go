package route

import (
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// preferences 车辆类型->医院类型偏好档位
// 说明：按档位依次尝试，档内选通行时间最短者；nil表示任意类型
var preferences = map[entity.VehicleType][][]entity.HospitalType{
	entity.VehicleAmbulance: {
		{entity.HospitalEmergency},
		{entity.HospitalGeneral, entity.HospitalSpecialty},
	},
	entity.VehicleFireTruck: {nil},
	entity.VehiclePolice:    {nil},
}

// eligible 医院是否可接收紧急车辆
func eligible(h entity.Hospital) bool {
	return h.AcceptsEmergency && h.Capacity > 0
}

func matches(tier []entity.HospitalType, t entity.HospitalType) bool {
	if tier == nil {
		return true
	}
	for _, x := range tier {
		if x == t {
			return true
		}
	}
	return false
}
