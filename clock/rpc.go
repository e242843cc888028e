package clock

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

const ClockServiceName = "corridor.clock.v1.ClockService"

type NowRequest struct{}

type NowResponse struct {
	T    time.Time `json:"t"`
	Step int64     `json:"step"`
}

// registrar 与rpc.Registrar一致，避免clock反向依赖entity
type registrar interface {
	Register(serviceName string, fn func(opts ...connect.HandlerOption) (pattern string, handler http.Handler))
}

// Register 将ClockService注册到RPC服务
// 功能：注册时钟服务的RPC处理器，供外部系统对齐协调器时间
// 参数：r-RPC服务（由其提供编解码器等处理器选项）
func (c *Clock) Register(r registrar) {
	r.Register(
		ClockServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			procedure := "/" + ClockServiceName + "/Now"
			return procedure, connect.NewUnaryHandler(procedure, c.GetNow, opts...)
		},
	)
}

// GetNow RPC接口：返回当前时刻与步数
func (c *Clock) GetNow(ctx context.Context, in *connect.Request[NowRequest]) (*connect.Response[NowResponse], error) {
	return connect.NewResponse(&NowResponse{
		T:    c.Now(),
		Step: c.Step(),
	}), nil
}
