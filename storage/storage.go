// 持久化边界：记录行的写出与扇出
package storage

import (
	"context"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// Sink 可能阻塞、可能失败的存储后端（如MongoDB）
type Sink interface {
	InsertSignalState(ctx context.Context, r entity.SignalStateRecord) error
	InsertDetection(ctx context.Context, r entity.DetectionRecord) error
	UpsertRoute(ctx context.Context, r entity.RouteRecord) error
	InsertSystemEvent(ctx context.Context, e entity.SystemEvent) error
}

// Multi 将记录扇出到多个Recorder（存储、websocket推送等）
type Multi []entity.IRecorder

func (m Multi) RecordSignalState(r entity.SignalStateRecord) {
	for _, rec := range m {
		rec.RecordSignalState(r)
	}
}

func (m Multi) RecordDetection(r entity.DetectionRecord) {
	for _, rec := range m {
		rec.RecordDetection(r)
	}
}

func (m Multi) RecordRoute(r entity.RouteRecord) {
	for _, rec := range m {
		rec.RecordRoute(r)
	}
}

func (m Multi) RecordSystemEvent(e entity.SystemEvent) {
	for _, rec := range m {
		rec.RecordSystemEvent(e)
	}
}
