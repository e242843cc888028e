package entity

import (
	"time"
)

// Manager依赖倒置

// 持久化边界：所有状态变化以记录行的形式写出
type IRecorder interface {
	RecordSignalState(r SignalStateRecord) // 相位切换与接管的施加/解除
	RecordDetection(r DetectionRecord)     // 合格检测事件及其处理结果
	RecordRoute(r RouteRecord)             // 路线创建与状态变化（按route_id覆盖）
	RecordSystemEvent(e SystemEvent)       // 冲突、重规划、拒绝等系统事件
}

// ExpiredOverride 看门狗清除的过期接管
type ExpiredOverride struct {
	SignalID string
	Owner    string
	Expiry   time.Time
}

// entity/junction/manager.go的依赖倒置
type ISignalRegistry interface {
	Has(id string) bool
	// 输入路口ID，返回状态快照，不存在返回ErrNotFound
	Get(id string) (IntersectionState, error)
	// 所有路口状态快照（按ID排序）
	List() []IntersectionState
	// 当前有效接管的持有者
	Owner(id string, now time.Time) (string, bool)
	// 距离坐标最近的路口
	Nearest(loc Location) (string, error)

	Advance(id string, now time.Time) error // 定时相位切换
	AdvanceAll(now time.Time)               // 对所有路口执行Advance

	ApplyOverride(id, reason string, expiry time.Time, owner string, now time.Time) error
	ClearOverride(id, owner string, now time.Time) error
	// 原子地将接管从from移交给to，用于冲突仲裁
	TransferOverride(id, from, to, reason string, expiry time.Time, now time.Time) error
	// 看门狗：清除所有已过期的接管
	ExpireStaleOverrides(now time.Time) []ExpiredOverride

	SetTiming(id string, green, yellow, red time.Duration) error // 修改配时（原子生效）
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	Snapshot() *GraphSnapshot                     // 当前路网快照
	Density(a, b string) (float64, error)         // 读取拥堵系数
	SetDensity(a, b string, factor float64) error // 外部路况更新拥堵系数（>=1）
	NodeDensity(id string) float64                // 路口相邻道路的平均拥堵系数
	HasEdge(a, b string) bool
}

// HospitalDistance 附近医院查询结果
type HospitalDistance struct {
	Hospital Hospital `json:"hospital"`
	Distance float64  `json:"distance_km"`
}

// entity/hospital/manager.go的依赖倒置
type IHospitalManager interface {
	Get(id string) (Hospital, error)
	List() []Hospital                                                 // 按ID排序
	Nearby(loc Location, radiusKm float64, limit int) []HospitalDistance // 按距离排序
}

// 导航模块接口
type IRouter interface {
	// 在给定路网快照上计算最短时间路线，纯函数
	ComputeRoute(g *GraphSnapshot, source string, vehicleType VehicleType, now time.Time) (*EmergencyRoute, error)
	// 前往其他合格医院的至多k条备选路线，按与ComputeRoute相同的顺序排列
	Alternatives(g *GraphSnapshot, source string, vehicleType VehicleType, now time.Time, k int) ([]*EmergencyRoute, error)
}
