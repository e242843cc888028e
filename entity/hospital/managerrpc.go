package hospital

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

const HospitalServiceName = "corridor.hospital.v1.HospitalService"

// 附近医院查询的默认参数
const (
	defaultRadiusKm = 10
	defaultLimit    = 5
)

type GetHospitalRequest struct {
	HospitalID string `json:"hospital_id"`
}

type GetHospitalResponse struct {
	Hospital entity.Hospital `json:"hospital"`
}

type ListHospitalsRequest struct{}

type ListHospitalsResponse struct {
	Hospitals []entity.Hospital `json:"hospitals"`
}

type NearbyHospitalsRequest struct {
	Location entity.Location `json:"location"`
	RadiusKm float64         `json:"radius_km"`
	Limit    int             `json:"limit"`
}

type NearbyHospitalsResponse struct {
	Hospitals []entity.HospitalDistance `json:"hospitals"`
}

// Register 将医院目录注册为RPC服务
func (m *HospitalManager) Register(r rpc.Registrar) {
	r.Register(
		HospitalServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			rpc.Mount(mux, HospitalServiceName, "GetHospital", m.GetHospital, opts...)
			rpc.Mount(mux, HospitalServiceName, "ListHospitals", m.ListHospitals, opts...)
			rpc.Mount(mux, HospitalServiceName, "NearbyHospitals", m.NearbyHospitals, opts...)
			return rpc.ServicePath(HospitalServiceName), mux
		},
	)
}

func (m *HospitalManager) GetHospital(
	ctx context.Context, in *connect.Request[GetHospitalRequest],
) (*connect.Response[GetHospitalResponse], error) {
	h, err := m.Get(in.Msg.HospitalID)
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&GetHospitalResponse{Hospital: h}), nil
}

func (m *HospitalManager) ListHospitals(
	ctx context.Context, in *connect.Request[ListHospitalsRequest],
) (*connect.Response[ListHospitalsResponse], error) {
	return connect.NewResponse(&ListHospitalsResponse{Hospitals: m.List()}), nil
}

// NearbyHospitals RPC接口：半径内的医院，半径与数量缺省为10km与5个
func (m *HospitalManager) NearbyHospitals(
	ctx context.Context, in *connect.Request[NearbyHospitalsRequest],
) (*connect.Response[NearbyHospitalsResponse], error) {
	req := in.Msg
	radius, limit := req.RadiusKm, req.Limit
	if radius == 0 {
		radius = defaultRadiusKm
	}
	if limit == 0 {
		limit = defaultLimit
	}
	return connect.NewResponse(&NearbyHospitalsResponse{Hospitals: m.Nearby(req.Location, radius, limit)}), nil
}
