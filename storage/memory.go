package storage

import (
	"slices"
	"sync"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// Memory 内存存储，未配置数据库时使用，也用于测试
// 说明：limit>0时每张表只保留最近limit条，路线按首次写入顺序淘汰
type Memory struct {
	mtx        sync.RWMutex
	limit      int
	states     []entity.SignalStateRecord
	detections []entity.DetectionRecord
	routes     map[string]entity.RouteRecord
	routeOrder []string
	events     []entity.SystemEvent
}

// NewMemory 不限容量的内存存储
func NewMemory() *Memory {
	return NewBoundedMemory(0)
}

// NewBoundedMemory 每张表最多保留limit条记录的内存存储，limit<=0不限
func NewBoundedMemory(limit int) *Memory {
	return &Memory{limit: limit, routes: make(map[string]entity.RouteRecord)}
}

// push 追加记录；超过2倍上限时整体压缩为最近limit条，摊还O(1)
func push[T any](m *Memory, s []T, v T) []T {
	s = append(s, v)
	if m.limit > 0 && len(s) >= 2*m.limit {
		s = slices.Clone(s[len(s)-m.limit:])
	}
	return s
}

// tail 最近limit条
func tail[T any](m *Memory, s []T) []T {
	if m.limit > 0 && len(s) > m.limit {
		return s[len(s)-m.limit:]
	}
	return s
}

func (m *Memory) RecordSignalState(r entity.SignalStateRecord) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.states = push(m, m.states, r)
}

func (m *Memory) RecordDetection(r entity.DetectionRecord) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.detections = push(m, m.detections, r)
}

// RecordRoute 按route_id覆盖
func (m *Memory) RecordRoute(r entity.RouteRecord) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.routes[r.RouteID]; !ok {
		m.routeOrder = append(m.routeOrder, r.RouteID)
		if m.limit > 0 && len(m.routeOrder) > m.limit {
			delete(m.routes, m.routeOrder[0])
			m.routeOrder = m.routeOrder[1:]
		}
	}
	m.routes[r.RouteID] = r
}

func (m *Memory) RecordSystemEvent(e entity.SystemEvent) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.events = push(m, m.events, e)
}

// SignalStates 信号状态历史，signalID为空时返回全部
func (m *Memory) SignalStates(signalID string) []entity.SignalStateRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	res := make([]entity.SignalStateRecord, 0)
	for _, r := range tail(m, m.states) {
		if signalID == "" || r.SignalID == signalID {
			res = append(res, r)
		}
	}
	return res
}

func (m *Memory) Detections() []entity.DetectionRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return slices.Clone(tail(m, m.detections))
}

// Routes 按首次写入顺序返回路线记录
func (m *Memory) Routes() []entity.RouteRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	res := make([]entity.RouteRecord, 0, len(m.routeOrder))
	for _, id := range m.routeOrder {
		res = append(res, m.routes[id])
	}
	return res
}

func (m *Memory) Route(id string) (entity.RouteRecord, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	r, ok := m.routes[id]
	return r, ok
}

// SystemEvents 系统事件，eventType为空时返回全部
func (m *Memory) SystemEvents(eventType string) []entity.SystemEvent {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	res := make([]entity.SystemEvent, 0)
	for _, e := range tail(m, m.events) {
		if eventType == "" || e.Type == eventType {
			res = append(res, e)
		}
	}
	return res
}
