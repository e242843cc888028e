package task

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/green-corridor/clock"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/corridor"
	"github.com/tsinghua-fib-lab/green-corridor/entity/hospital"
	"github.com/tsinghua-fib-lab/green-corridor/entity/junction"
	"github.com/tsinghua-fib-lab/green-corridor/entity/road"
	"github.com/tsinghua-fib-lab/green-corridor/entity/route"
	"github.com/tsinghua-fib-lab/green-corridor/intake"
	"github.com/tsinghua-fib-lab/green-corridor/server"
	"github.com/tsinghua-fib-lab/green-corridor/storage"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
	"go.mongodb.org/mongo-driver/mongo"
)

// waitForServerReady 等待服务器就绪
// 功能：通过HTTP请求检查服务器是否已经启动并可以响应
// 参数：addr-服务器地址，retryCount-重试次数，interval-重试间隔
// 返回：错误信息，如果服务器就绪则返回nil
func waitForServerReady(addr string, retryCount int, interval time.Duration) error {
	client := &http.Client{
		Timeout: interval,
	}
	for i := 0; i < retryCount; i++ {
		resp, err := client.Get(addr)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("server `%v` did not become ready after %d retries", addr, retryCount)
}

// Context 协调任务上下文
// 功能：包含一次运行的所有组件和状态，实现entity.ITaskContext
// 说明：管理时钟、各管理器、持久化输出、HTTP服务与MQTT接入
type Context struct {
	// 关闭指令
	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	// 时钟
	clock *clock.Clock

	// HTTP/RPC服务
	server *server.Server
	// server close channel
	serverCloseCh chan struct{}
	// MQTT接入（未配置broker时为nil）
	subscriber *intake.Subscriber

	// 信号注册表
	junctionManager *junction.JunctionManager
	// 路网
	roadManager *road.RoadManager
	// 医院
	hospitalManager *hospital.HospitalManager
	// 绿波走廊协调器
	corridorManager *corridor.CorridorManager
	// 导航服务
	router entity.IRouter

	// 持久化输出
	recorder entity.IRecorder
	async    *storage.Async
	memory   *storage.Memory
	mongo    *mongo.Client

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig

	// 用于初始化的输入
	initRes *input.Network
}

// NewContext 创建新的任务上下文
// 功能：加载路网数据，创建各管理器与输出，注册RPC服务
// 参数：
//   - rc: 运行时配置
//   - startServer: 是否启动HTTP服务
//
// 返回：已初始化的Context实例（需调用Run开始运行）
// 算法说明：
// 1. 创建时钟并加载路网
// 2. 创建输出：配置了output.uri时异步写入MongoDB，否则写入内存；所有记录同时推送给websocket客户端
// 3. 创建各管理器与导航服务，用路网初始化
// 4. 注册RPC服务并启动HTTP服务
// 5. 配置了mqtt.broker时创建MQTT接入
func NewContext(rc *config.RuntimeConfig, startServer bool) *Context {
	c := rc.All
	ctx := &Context{
		stopCh:        make(chan struct{}),
		serverCloseCh: make(chan struct{}),
		runtimeConfig: rc,
	}
	ctx.clock = clock.New(c.Control.TickInterval)

	// 下载所有启动所需的数据
	ctx.initRes = input.Init(c)

	ctx.server = server.New(c.Server, ctx.health)
	var primary entity.IRecorder
	if c.Output.URI != "" {
		ctx.mongo = mongoutil.NewClient(c.Output.URI)
		sink := storage.NewMongo(ctx.mongo.Database(c.Output.DB))
		ensureCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := sink.EnsureIndexes(ensureCtx); err != nil {
			log.Panicf("failed to create indexes: %v", err)
		}
		cancel()
		ctx.async = storage.NewAsync(sink, c.Output.Buffer)
		primary = ctx.async
		log.Infof("output to mongodb %s", c.Output.DB)
	} else {
		ctx.memory = storage.NewBoundedMemory(c.Output.MemoryLimit)
		primary = ctx.memory
		log.Infof("output to memory (latest %d records per table)", c.Output.MemoryLimit)
	}
	ctx.recorder = storage.Multi{primary, ctx.server.Hub()}

	// 新建各类管理器
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.roadManager = road.NewManager(ctx)
	ctx.hospitalManager = hospital.NewManager(ctx)
	ctx.router = route.NewLocalRouter(ctx)
	ctx.corridorManager = corridor.NewManager(ctx)
	// 先初始化再对外提供服务
	ctx.prepare()

	ctx.clock.Register(ctx.server)
	ctx.junctionManager.Register(ctx.server)
	ctx.roadManager.Register(ctx.server)
	ctx.hospitalManager.Register(ctx.server)
	ctx.corridorManager.Register(ctx.server)

	// server协程，用于提供RPC服务
	if startServer {
		go func() {
			if err := ctx.server.Serve(); err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.serverCloseCh <- struct{}{}
		}()
		addr := c.Server.Listen
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		if err := waitForServerReady("http://"+addr+"/healthz", 50, 100*time.Millisecond); err != nil {
			log.Panicf("%v", err)
		}
	} else {
		close(ctx.serverCloseCh)
	}

	if c.MQTT.Broker != "" {
		ctx.subscriber = intake.NewSubscriber(ctx, ctx.corridorManager, c.MQTT)
	}
	return ctx
}

func (ctx *Context) GetInput() *input.Network {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) SignalRegistry() entity.ISignalRegistry {
	return ctx.junctionManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) HospitalManager() entity.IHospitalManager {
	return ctx.hospitalManager
}

func (ctx *Context) CorridorManager() *corridor.CorridorManager {
	return ctx.corridorManager
}

func (ctx *Context) Router() entity.IRouter {
	return ctx.router
}

func (ctx *Context) Recorder() entity.IRecorder {
	return ctx.recorder
}

// Memory 内存输出（配置了MongoDB输出时为nil）
func (ctx *Context) Memory() *storage.Memory {
	return ctx.memory
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

// prepare 用加载的路网初始化各管理器
func (ctx *Context) prepare() {
	n := ctx.initRes
	now := ctx.clock.Now()

	log.Infof("Signal: %v", len(n.Signals))
	log.Infof("Edge: %v", len(n.Edges))
	log.Infof("Hospital: %v", len(n.Hospitals))

	if err := ctx.junctionManager.Init(n.Signals, now); err != nil {
		log.Panicf("failed to init signals: %v", err)
	}
	ctx.roadManager.Init(n.Signals, n.Edges)
	if err := ctx.hospitalManager.Init(n.Hospitals); err != nil {
		log.Panicf("failed to init hospitals: %v", err)
	}
}

// health 健康检查返回的运行状态
func (ctx *Context) health() any {
	return map[string]any{
		"step":   ctx.clock.Step(),
		"uptime": ctx.clock.String(),
		"routes": ctx.corridorManager.Stats(),
	}
}

// Close 停止运行并释放资源，可重复调用
func (ctx *Context) Close() {
	if ctx.closed.Swap(true) {
		return
	}
	close(ctx.stopCh)
	ctx.wg.Wait()
	if ctx.subscriber != nil {
		ctx.subscriber.Close()
	}
	ctx.server.Close()
	// wait for graceful stop
	<-ctx.serverCloseCh
	if ctx.async != nil {
		ctx.async.Close()
		if n := ctx.async.Dropped(); n > 0 {
			log.Warnf("%d records dropped by output", n)
		}
	}
	if ctx.mongo != nil {
		if err := ctx.mongo.Disconnect(context.Background()); err != nil {
			log.Warnf("mongodb disconnect: %v", err)
		}
	}
	log.Infof("closed")
}
