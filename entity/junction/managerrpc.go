package junction

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

const SignalServiceName = "corridor.signal.v1.SignalService"

// SignalStatus 路口状态（时长单位为秒）
type SignalStatus struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Location  entity.Location  `json:"location"`
	Phase     entity.Phase     `json:"phase"`
	Remaining float64          `json:"remaining"`
	Settling  bool             `json:"settling"`
	Override  *entity.Override `json:"override,omitempty"`
	Green     float64          `json:"green"`
	Yellow    float64          `json:"yellow"`
	Red       float64          `json:"red"`
}

func newSignalStatus(s entity.IntersectionState, now time.Time) SignalStatus {
	return SignalStatus{
		ID:        s.ID,
		Name:      s.Name,
		Location:  s.Location,
		Phase:     s.Phase,
		Remaining: s.Remaining(now).Seconds(),
		Settling:  s.Settling,
		Override:  s.Override,
		Green:     s.Green.Seconds(),
		Yellow:    s.Yellow.Seconds(),
		Red:       s.Red.Seconds(),
	}
}

type GetSignalRequest struct {
	SignalID string `json:"signal_id"`
}

type GetSignalResponse struct {
	Signal SignalStatus `json:"signal"`
}

type ListSignalsRequest struct{}

type ListSignalsResponse struct {
	Signals []SignalStatus `json:"signals"`
}

type SetTimingRequest struct {
	SignalID string  `json:"signal_id"`
	Green    float64 `json:"green"`
	Yellow   float64 `json:"yellow"`
	Red      float64 `json:"red"`
}

type SetTimingResponse struct {
	Signal SignalStatus `json:"signal"`
}

type NearestSignalRequest struct {
	Location entity.Location `json:"location"`
}

type NearestSignalResponse struct {
	SignalID string `json:"signal_id"`
}

// Register 将信号注册表注册为RPC服务
// 说明：只读查询与配时修改；接管操作经由协调器的命令队列完成
func (m *JunctionManager) Register(r rpc.Registrar) {
	r.Register(
		SignalServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			rpc.Mount(mux, SignalServiceName, "GetSignal", m.GetSignal, opts...)
			rpc.Mount(mux, SignalServiceName, "ListSignals", m.ListSignals, opts...)
			rpc.Mount(mux, SignalServiceName, "SetTiming", m.SetTimingRPC, opts...)
			rpc.Mount(mux, SignalServiceName, "NearestSignal", m.NearestSignal, opts...)
			return rpc.ServicePath(SignalServiceName), mux
		},
	)
}

// GetSignal RPC接口：获取单个路口状态及当前相位剩余时间
func (m *JunctionManager) GetSignal(
	ctx context.Context, in *connect.Request[GetSignalRequest],
) (*connect.Response[GetSignalResponse], error) {
	s, err := m.Get(in.Msg.SignalID)
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&GetSignalResponse{Signal: newSignalStatus(s, m.ctx.Clock().Now())}), nil
}

// ListSignals RPC接口：获取所有路口状态
func (m *JunctionManager) ListSignals(
	ctx context.Context, in *connect.Request[ListSignalsRequest],
) (*connect.Response[ListSignalsResponse], error) {
	now := m.ctx.Clock().Now()
	res := &ListSignalsResponse{Signals: make([]SignalStatus, 0, len(m.junctions))}
	for _, s := range m.List() {
		res.Signals = append(res.Signals, newSignalStatus(s, now))
	}
	return connect.NewResponse(res), nil
}

// SetTimingRPC RPC接口：修改路口配时
// 说明：所有时长必须为正，否则返回InvalidArgument；修改记录为系统事件
func (m *JunctionManager) SetTimingRPC(
	ctx context.Context, in *connect.Request[SetTimingRequest],
) (*connect.Response[SetTimingResponse], error) {
	req := in.Msg
	if err := m.SetTiming(req.SignalID, seconds(req.Green), seconds(req.Yellow), seconds(req.Red)); err != nil {
		return nil, rpc.Error(err)
	}
	now := m.ctx.Clock().Now()
	log.Infof("signal %s timing updated to %v/%v/%v", req.SignalID, req.Green, req.Yellow, req.Red)
	if rec := m.ctx.Recorder(); rec != nil {
		rec.RecordSystemEvent(entity.SystemEvent{
			ID:       uuid.NewString(),
			Type:     entity.EventTimingUpdated,
			Source:   req.SignalID,
			Severity: entity.SeverityInfo,
			Message:  fmt.Sprintf("timing updated to green=%vs yellow=%vs red=%vs", req.Green, req.Yellow, req.Red),
			Data: map[string]any{
				"green": req.Green, "yellow": req.Yellow, "red": req.Red,
			},
			Timestamp: now,
		})
	}
	s, _ := m.Get(req.SignalID)
	return connect.NewResponse(&SetTimingResponse{Signal: newSignalStatus(s, now)}), nil
}

// NearestSignal RPC接口：距离坐标最近的路口
func (m *JunctionManager) NearestSignal(
	ctx context.Context, in *connect.Request[NearestSignalRequest],
) (*connect.Response[NearestSignalResponse], error) {
	id, err := m.Nearest(in.Msg.Location)
	if err != nil {
		return nil, rpc.Error(err)
	}
	return connect.NewResponse(&NearestSignalResponse{SignalID: id}), nil
}
