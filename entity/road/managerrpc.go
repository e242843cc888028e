package road

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

const RoadServiceName = "corridor.road.v1.RoadService"

type ListRoadsRequest struct{}

type ListRoadsResponse struct {
	Roads []EdgeStatus `json:"roads"`
}

type SetDensityRequest struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Density float64 `json:"density"`
}

type SetDensityResponse struct{}

// Register 将路网管理器注册为RPC服务
func (m *RoadManager) Register(r rpc.Registrar) {
	r.Register(
		RoadServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			rpc.Mount(mux, RoadServiceName, "ListRoads", m.ListRoads, opts...)
			rpc.Mount(mux, RoadServiceName, "SetDensity", m.SetDensityRPC, opts...)
			return rpc.ServicePath(RoadServiceName), mux
		},
	)
}

// ListRoads RPC接口：所有道路及其当前拥堵系数
func (m *RoadManager) ListRoads(
	ctx context.Context, in *connect.Request[ListRoadsRequest],
) (*connect.Response[ListRoadsResponse], error) {
	return connect.NewResponse(&ListRoadsResponse{Roads: m.List()}), nil
}

// SetDensityRPC RPC接口：外部路况源更新拥堵系数
func (m *RoadManager) SetDensityRPC(
	ctx context.Context, in *connect.Request[SetDensityRequest],
) (*connect.Response[SetDensityResponse], error) {
	if err := m.SetDensity(in.Msg.From, in.Msg.To, in.Msg.Density); err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&SetDensityResponse{}), nil
}
