package corridor

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

const CorridorServiceName = "corridor.corridor.v1.CorridorService"

type SubmitDetectionResponse struct {
	Result DetectionResult `json:"result"`
}

type PlanRouteResponse struct {
	Plan PlanResult `json:"plan"`
}

type RouteResponse struct {
	Route RouteView `json:"route"`
}

type GetRouteRequest struct {
	RouteID string `json:"route_id"`
}

type ListRoutesRequest struct {
	IncludeRetired bool `json:"include_retired,omitempty"`
}

type ListRoutesResponse struct {
	Routes []RouteView `json:"routes"`
}

type SignalResponse struct {
	Signal entity.IntersectionState `json:"signal"`
}

// Register 将协调器注册为RPC服务
func (m *CorridorManager) Register(r rpc.Registrar) {
	r.Register(
		CorridorServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			rpc.Mount(mux, CorridorServiceName, "SubmitDetection", m.SubmitDetectionRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "PlanRoute", m.PlanRouteRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "GetRoute", m.GetRouteRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "ListRoutes", m.ListRoutesRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "Cancel", m.CancelRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "ConfirmArrival", m.ConfirmArrivalRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "ReportProgress", m.ReportProgressRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "ManualOverride", m.ManualOverrideRPC, opts...)
			rpc.Mount(mux, CorridorServiceName, "ManualClear", m.ManualClearRPC, opts...)
			return rpc.ServicePath(CorridorServiceName), mux
		},
	)
}

// SubmitDetectionRPC RPC接口：提交检测事件
// 说明：置信度不足与无可达医院属于正常的处理结果，以Accepted=false返回而非错误
func (m *CorridorManager) SubmitDetectionRPC(
	ctx context.Context, in *connect.Request[DetectionRequest],
) (*connect.Response[SubmitDetectionResponse], error) {
	res, err := m.SubmitDetection(ctx, *in.Msg)
	if res == nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&SubmitDetectionResponse{Result: *res}), nil
}

// PlanRouteRPC RPC接口：路线试算
func (m *CorridorManager) PlanRouteRPC(
	ctx context.Context, in *connect.Request[PlanRequest],
) (*connect.Response[PlanRouteResponse], error) {
	res, err := m.PlanRoute(*in.Msg)
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&PlanRouteResponse{Plan: *res}), nil
}

func (m *CorridorManager) GetRouteRPC(
	ctx context.Context, in *connect.Request[GetRouteRequest],
) (*connect.Response[RouteResponse], error) {
	v, err := m.GetRoute(in.Msg.RouteID)
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&RouteResponse{Route: v}), nil
}

func (m *CorridorManager) ListRoutesRPC(
	ctx context.Context, in *connect.Request[ListRoutesRequest],
) (*connect.Response[ListRoutesResponse], error) {
	return connect.NewResponse(&ListRoutesResponse{Routes: m.ListRoutes(in.Msg.IncludeRetired)}), nil
}

func (m *CorridorManager) CancelRPC(
	ctx context.Context, in *connect.Request[RouteRequest],
) (*connect.Response[RouteResponse], error) {
	return routeResponse(m.Cancel(ctx, *in.Msg))
}

func (m *CorridorManager) ConfirmArrivalRPC(
	ctx context.Context, in *connect.Request[RouteRequest],
) (*connect.Response[RouteResponse], error) {
	return routeResponse(m.ConfirmArrival(ctx, *in.Msg))
}

func (m *CorridorManager) ReportProgressRPC(
	ctx context.Context, in *connect.Request[ProgressRequest],
) (*connect.Response[RouteResponse], error) {
	return routeResponse(m.ReportProgress(ctx, *in.Msg))
}

// ManualOverrideRPC RPC接口：人工接管路口
func (m *CorridorManager) ManualOverrideRPC(
	ctx context.Context, in *connect.Request[ManualOverrideRequest],
) (*connect.Response[SignalResponse], error) {
	return signalResponse(m.ManualOverride(ctx, *in.Msg))
}

// ManualClearRPC RPC接口：解除人工接管
func (m *CorridorManager) ManualClearRPC(
	ctx context.Context, in *connect.Request[ManualClearRequest],
) (*connect.Response[SignalResponse], error) {
	return signalResponse(m.ManualClear(ctx, *in.Msg))
}

func routeResponse(v RouteView, err error) (*connect.Response[RouteResponse], error) {
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&RouteResponse{Route: v}), nil
}

func signalResponse(s entity.IntersectionState, err error) (*connect.Response[SignalResponse], error) {
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&SignalResponse{Signal: s}), nil
}
