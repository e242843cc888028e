package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// writeTimeout 单条记录的写出超时
const writeTimeout = 5 * time.Second

// Async 异步写出器
// 功能：将记录放入缓冲队列，由后台协程写入Sink，避免tick被数据库阻塞
// 说明：队列满时丢弃记录并计数；写出失败只记录日志
type Async struct {
	sink    Sink
	queue   chan func(ctx context.Context) error
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsync 创建异步写出器并启动后台协程
func NewAsync(sink Sink, buffer int) *Async {
	a := &Async{
		sink:  sink,
		queue: make(chan func(ctx context.Context) error, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for write := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := write(ctx); err != nil {
			log.Errorf("write record failed: %v", err)
		}
		cancel()
	}
}

func (a *Async) enqueue(kind string, write func(ctx context.Context) error) {
	select {
	case a.queue <- write:
	default:
		n := a.dropped.Add(1)
		log.Warnf("record queue full, drop %s record (dropped %d in total)", kind, n)
	}
}

func (a *Async) RecordSignalState(r entity.SignalStateRecord) {
	a.enqueue("signal state", func(ctx context.Context) error { return a.sink.InsertSignalState(ctx, r) })
}

func (a *Async) RecordDetection(r entity.DetectionRecord) {
	a.enqueue("detection", func(ctx context.Context) error { return a.sink.InsertDetection(ctx, r) })
}

func (a *Async) RecordRoute(r entity.RouteRecord) {
	a.enqueue("route", func(ctx context.Context) error { return a.sink.UpsertRoute(ctx, r) })
}

func (a *Async) RecordSystemEvent(e entity.SystemEvent) {
	a.enqueue("system event", func(ctx context.Context) error { return a.sink.InsertSystemEvent(ctx, e) })
}

// Dropped 因队列满被丢弃的记录数
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close 停止接收并等待队列中的记录写完
// 说明：Close之后不得再调用Record*
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
	})
	a.wg.Wait()
}
