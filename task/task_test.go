package task

import (
	"context"
	"net/http"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/corridor"
	"github.com/tsinghua-fib-lab/green-corridor/entity/junction"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

func newTestContext(t *testing.T) *Context {
	rc, err := config.NewRuntimeConfig(config.Config{
		Input:   config.Input{File: "../data/network.yaml"},
		Control: config.Control{TickInterval: 0.02, WatchdogInterval: 0.02},
	})
	require.NoError(t, err)
	return NewContext(rc, false)
}

func TestServingBeforeRunSeesNetwork(t *testing.T) {
	const addr = "127.0.0.1:18931"
	rc, err := config.NewRuntimeConfig(config.Config{
		Input:  config.Input{File: "../data/network.yaml"},
		Server: config.Server{Listen: addr},
	})
	require.NoError(t, err)
	ctx := NewContext(rc, true)
	defer ctx.Close()

	// Run尚未调用，路网已完成初始化
	assert.Len(t, ctx.SignalRegistry().List(), 10)
	client := rpc.NewClient[junction.ListSignalsRequest, junction.ListSignalsResponse](
		http.DefaultClient, "http://"+addr, junction.SignalServiceName, "ListSignals",
	)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(&junction.ListSignalsRequest{}))
	require.NoError(t, err)
	assert.Len(t, res.Msg.Signals, 10)
}

func TestRunProcessesDetections(t *testing.T) {
	ctx := newTestContext(t)
	done := make(chan struct{})
	go func() {
		ctx.Run()
		close(done)
	}()
	require.Eventually(t, func() bool { return ctx.Clock().Step() > 0 }, 5*time.Second, 10*time.Millisecond)

	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ctx.CorridorManager().SubmitDetection(c, corridor.DetectionRequest{
		RequestID: "cam-1",
		Event: entity.DetectionEvent{
			SignalID: "haridwar_road", VehicleType: "ambulance", Confidence: 0.93,
		},
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	rt, err := ctx.CorridorManager().GetRoute(res.RouteID)
	require.NoError(t, err)
	assert.Equal(t, "haridwar_road", rt.Route.Nodes[0])
	// 下一个tick开始接管起点路口
	require.Eventually(t, func() bool {
		rt, err := ctx.CorridorManager().GetRoute(res.RouteID)
		return err == nil && rt.Route.Status == entity.RouteActive
	}, 5*time.Second, 10*time.Millisecond)
	owner, ok := ctx.SignalRegistry().Owner("haridwar_road", ctx.Clock().Now())
	assert.True(t, ok)
	assert.Equal(t, res.RouteID, owner)
	assert.Len(t, ctx.Memory().Detections(), 1)

	h, ok := ctx.health().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, h["routes"].(map[entity.RouteStatus]int)[entity.RouteActive])

	ctx.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	// 重复关闭无效果
	ctx.Close()
}

func TestWaitForServerReadyTimeout(t *testing.T) {
	err := waitForServerReady("http://127.0.0.1:1/healthz", 2, 10*time.Millisecond)
	assert.Error(t, err)
}
