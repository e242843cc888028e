package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

type fakeSink struct {
	mtx    sync.Mutex
	routes []entity.RouteRecord
	events []entity.SystemEvent
	states int
	block  chan struct{}
}

func (f *fakeSink) InsertSignalState(ctx context.Context, r entity.SignalStateRecord) error {
	if f.block != nil {
		<-f.block
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.states++
	return nil
}

func (f *fakeSink) InsertDetection(ctx context.Context, r entity.DetectionRecord) error {
	return errors.New("unavailable")
}

func (f *fakeSink) UpsertRoute(ctx context.Context, r entity.RouteRecord) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.routes = append(f.routes, r)
	return nil
}

func (f *fakeSink) InsertSystemEvent(ctx context.Context, e entity.SystemEvent) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.events = append(f.events, e)
	return nil
}

func TestMemoryRouteUpsert(t *testing.T) {
	m := NewMemory()
	m.RecordRoute(entity.RouteRecord{RouteID: "r1", Status: entity.RoutePlanned})
	m.RecordRoute(entity.RouteRecord{RouteID: "r2", Status: entity.RoutePlanned})
	m.RecordRoute(entity.RouteRecord{RouteID: "r1", Status: entity.RouteActive})

	routes := m.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "r1", routes[0].RouteID)
	assert.Equal(t, entity.RouteActive, routes[0].Status)
	r, ok := m.Route("r2")
	assert.True(t, ok)
	assert.Equal(t, entity.RoutePlanned, r.Status)
}

func TestMemoryFilters(t *testing.T) {
	m := NewMemory()
	m.RecordSignalState(entity.SignalStateRecord{SignalID: "a"})
	m.RecordSignalState(entity.SignalStateRecord{SignalID: "b"})
	m.RecordSystemEvent(entity.SystemEvent{Type: entity.EventOverrideConflict})
	m.RecordSystemEvent(entity.SystemEvent{Type: entity.EventRouteReplanned})

	assert.Len(t, m.SignalStates(""), 2)
	assert.Len(t, m.SignalStates("a"), 1)
	assert.Len(t, m.SystemEvents(entity.EventOverrideConflict), 1)
	assert.Len(t, m.SystemEvents(""), 2)
}

func TestMultiFanOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	multi := Multi{a, b}
	multi.RecordDetection(entity.DetectionRecord{SignalID: "x"})
	multi.RecordSystemEvent(entity.SystemEvent{Type: entity.EventDensityUpdated})
	assert.Len(t, a.Detections(), 1)
	assert.Len(t, b.Detections(), 1)
	assert.Len(t, b.SystemEvents(""), 1)
}

func TestAsyncFlushOnClose(t *testing.T) {
	sink := &fakeSink{}
	a := NewAsync(sink, 16)
	for i := 0; i < 5; i++ {
		a.RecordRoute(entity.RouteRecord{RouteID: "r", CreatedAt: time.Unix(int64(i), 0)})
	}
	a.RecordSystemEvent(entity.SystemEvent{Type: entity.EventRouteStatus})
	// 写出失败只记录日志
	a.RecordDetection(entity.DetectionRecord{SignalID: "x"})
	a.Close()

	assert.Len(t, sink.routes, 5)
	assert.Equal(t, time.Unix(4, 0), sink.routes[4].CreatedAt)
	assert.Len(t, sink.events, 1)
	assert.Zero(t, a.Dropped())
}

func TestAsyncDropsWhenFull(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	a := NewAsync(sink, 1)
	// 第一条被后台协程取出后阻塞，第二条占满队列，其余被丢弃
	a.RecordSignalState(entity.SignalStateRecord{})
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	a.RecordSignalState(entity.SignalStateRecord{})
	a.RecordSignalState(entity.SignalStateRecord{})
	a.RecordSignalState(entity.SignalStateRecord{})
	assert.Equal(t, int64(2), a.Dropped())
	close(sink.block)
	a.Close()
	assert.Equal(t, 2, sink.states)
}

func TestBoundedMemoryKeepsRecent(t *testing.T) {
	m := NewBoundedMemory(3)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%d", i)
		m.RecordSignalState(entity.SignalStateRecord{SignalID: id})
		m.RecordSystemEvent(entity.SystemEvent{Source: id})
		m.RecordDetection(entity.DetectionRecord{SignalID: id})
		m.RecordRoute(entity.RouteRecord{RouteID: fmt.Sprintf("r%d", i)})
		assert.Less(t, len(m.states), 6)
		assert.Less(t, len(m.events), 6)
	}

	states := m.SignalStates("")
	require.Len(t, states, 3)
	assert.Equal(t, "s7", states[0].SignalID)
	assert.Equal(t, "s9", states[2].SignalID)
	assert.Empty(t, m.SignalStates("s1"))

	events := m.SystemEvents("")
	require.Len(t, events, 3)
	assert.Equal(t, "s7", events[0].Source)
	detections := m.Detections()
	require.Len(t, detections, 3)
	assert.Equal(t, "s9", detections[2].SignalID)

	routes := m.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "r7", routes[0].RouteID)
	_, ok := m.Route("r6")
	assert.False(t, ok)
	// 覆盖已有路线不淘汰其他路线
	m.RecordRoute(entity.RouteRecord{RouteID: "r7", Status: entity.RouteCompleted})
	assert.Len(t, m.Routes(), 3)
	r, ok := m.Route("r7")
	require.True(t, ok)
	assert.Equal(t, entity.RouteCompleted, r.Status)

	// 不限容量
	u := NewMemory()
	for i := 0; i < 100; i++ {
		u.RecordSignalState(entity.SignalStateRecord{SignalID: "a"})
	}
	assert.Len(t, u.SignalStates("a"), 100)
}
