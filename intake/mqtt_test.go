package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/clock"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/corridor"
	"github.com/tsinghua-fib-lab/green-corridor/entity/road"
	"github.com/tsinghua-fib-lab/green-corridor/storage"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type testContext struct {
	clock *clock.Clock
	rec   *storage.Memory
	roads *road.RoadManager
}

func (c *testContext) Clock() *clock.Clock { return c.clock }
func (c *testContext) SignalRegistry() entity.ISignalRegistry { return nil }
func (c *testContext) RoadManager() entity.IRoadManager { return c.roads }
func (c *testContext) HospitalManager() entity.IHospitalManager { return nil }
func (c *testContext) Router() entity.IRouter { return nil }
func (c *testContext) Recorder() entity.IRecorder { return c.rec }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig { return nil }

type fakeCorridor struct {
	detections []corridor.DetectionRequest
	progress   []corridor.ProgressRequest
	err        error
}

func (f *fakeCorridor) SubmitDetection(ctx context.Context, req corridor.DetectionRequest) (*corridor.DetectionResult, error) {
	f.detections = append(f.detections, req)
	if f.err != nil {
		return nil, f.err
	}
	return &corridor.DetectionResult{Accepted: true, RouteID: "r1"}, nil
}

func (f *fakeCorridor) ReportProgress(ctx context.Context, req corridor.ProgressRequest) (corridor.RouteView, error) {
	f.progress = append(f.progress, req)
	return corridor.RouteView{}, f.err
}

func newSubscriber(t *testing.T) (*Subscriber, *fakeCorridor, *testContext) {
	var c config.Config
	require.NoError(t, c.Normalize())
	ctx := &testContext{clock: clock.NewManual(t0, time.Second), rec: storage.NewMemory()}
	ctx.roads = road.NewManager(ctx)
	ctx.roads.Init(
		[]input.Signal{{ID: "a"}, {ID: "b"}},
		[]input.Edge{{From: "a", To: "b", Distance: 1, TravelTime: 60}},
	)
	fc := &fakeCorridor{}
	return NewSubscriber(ctx, fc, c.MQTT), fc, ctx
}

func TestHandleDetection(t *testing.T) {
	s, fc, _ := newSubscriber(t)
	payload := `{"request_id":"cam-7-1","signal_id":"a","vehicle_type":"ambulance","confidence":0.93,` +
		`"timestamp":"2025-03-01T08:00:00Z","metadata":{"camera":"cam-7"}}`
	require.NoError(t, s.handle("corridor/detections", []byte(payload)))
	require.Len(t, fc.detections, 1)
	req := fc.detections[0]
	assert.Equal(t, "cam-7-1", req.RequestID)
	assert.Equal(t, "a", req.Event.SignalID)
	assert.Equal(t, "ambulance", req.Event.VehicleType)
	assert.Equal(t, 0.93, req.Event.Confidence)
	assert.Equal(t, t0, req.Event.Timestamp.UTC())
	assert.Equal(t, "cam-7", req.Event.Metadata["camera"])
}

func TestHandleDetectionError(t *testing.T) {
	s, fc, _ := newSubscriber(t)
	fc.err = entity.ErrRouteUnavailable
	err := s.handle("corridor/detections", []byte(`{"signal_id":"a","vehicle_type":"police","confidence":0.9}`))
	assert.True(t, errors.Is(err, entity.ErrRouteUnavailable))
}

func TestHandleDecodeFailure(t *testing.T) {
	s, fc, ctx := newSubscriber(t)
	err := s.handle("corridor/detections", []byte(`{not json`))
	assert.True(t, errors.Is(err, entity.ErrInvalidInput))
	assert.Empty(t, fc.detections)
	events := ctx.rec.SystemEvents(entity.EventIntakeDecodeFailed)
	require.Len(t, events, 1)
	assert.Equal(t, "corridor/detections", events[0].Source)
}

func TestHandleDensity(t *testing.T) {
	s, _, ctx := newSubscriber(t)
	require.NoError(t, s.handle("corridor/density", []byte(`{"from":"b","to":"a","density":1.8}`)))
	d, err := ctx.roads.Density("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1.8, d)

	err = s.handle("corridor/density", []byte(`{"from":"a","to":"b","density":0.5}`))
	assert.True(t, errors.Is(err, entity.ErrInvalidInput))
	err = s.handle("corridor/density", []byte(`{"from":"a","to":"x","density":2}`))
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestHandleProgress(t *testing.T) {
	s, fc, _ := newSubscriber(t)
	require.NoError(t, s.handle("corridor/progress", []byte(`{"route_id":"r1","signal_id":"b"}`)))
	require.Len(t, fc.progress, 1)
	assert.Equal(t, corridor.ProgressRequest{RouteID: "r1", SignalID: "b"}, fc.progress[0])
}

func TestHandleUnknownTopic(t *testing.T) {
	s, _, _ := newSubscriber(t)
	err := s.handle("corridor/unknown", []byte(`{}`))
	assert.True(t, errors.Is(err, entity.ErrInvalidInput))
}
