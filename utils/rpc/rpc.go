// connect-RPC公共设施：JSON编解码器、服务注册接口与错误码映射
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// Registrar 可注册RPC服务的对象（server.Server）
// 说明：fn返回服务路径前缀与处理器
type Registrar interface {
	Register(serviceName string, fn func(opts ...connect.HandlerOption) (pattern string, handler http.Handler))
}

// JSONCodec 以encoding/json编解码普通Go结构体
// 说明：领域消息不是protobuf生成的类型，替换connect默认的"json"编解码器
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Options 服务端通用选项
func Options(opts ...connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
}

// ClientOptions 客户端通用选项
func ClientOptions(opts ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
}

// Procedure 拼接过程路径 /{service}/{method}
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// Error 将领域错误映射为connect错误码
func Error(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, entity.ErrInvalidInput):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, entity.ErrRouteUnavailable):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, entity.ErrConflict):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, entity.ErrNotOwner):
		return connect.NewError(connect.CodePermissionDenied, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// ServicePath 服务的路径前缀 /{service}/
func ServicePath(service string) string {
	return "/" + service + "/"
}

// Mount 在mux上挂载一元过程
func Mount[Req, Res any](
	mux *http.ServeMux, service, method string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts ...connect.HandlerOption,
) {
	procedure := Procedure(service, method)
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}

// NewClient 创建一元过程的客户端
func NewClient[Req, Res any](httpClient connect.HTTPClient, baseURL, service, method string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](httpClient, baseURL+Procedure(service, method), ClientOptions(opts...)...)
}
