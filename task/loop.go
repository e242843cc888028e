package task

import (
	"flag"
	"time"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 60, "心跳日志间隔步数")
)

// step 协调器的一步
// 算法说明：
// 1. 更新时钟：增加内部步数并取得当前时刻
// 2. 心跳日志：定期输出路线统计
// 3. 信号注册表并行执行定时相位切换
// 4. 协调器执行命令队列、推进所有路线
func (ctx *Context) step() {
	now := ctx.clock.Tick()
	if step := ctx.clock.Step(); *heartBeatInterval > 0 && step%int64(*heartBeatInterval) == 0 {
		log.Infof("STEP: %d(%s) routes: %v", step, ctx.clock, ctx.corridorManager.Stats())
	}
	ctx.junctionManager.AdvanceAll(now)
	ctx.corridorManager.Tick(now)
}

// watchdog 看门狗协程
// 说明：独立于tick运行，协调器阻塞或崩溃时过期的接管仍会被清除
func (ctx *Context) watchdog() {
	defer ctx.wg.Done()
	ticker := time.NewTicker(ctx.runtimeConfig.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.stopCh:
			return
		case <-ticker.C:
			ctx.junctionManager.ExpireStaleOverrides(ctx.clock.Now())
		}
	}
}

// Run 运行，直到Close被调用
func (ctx *Context) Run() {
	if ctx.subscriber != nil {
		if err := ctx.subscriber.Start(); err != nil {
			log.Panicf("%v", err)
		}
	}

	ctx.wg.Add(1)
	go ctx.watchdog()

	ctx.wg.Add(1)
	go func() {
		defer ctx.wg.Done()
		ticker := time.NewTicker(ctx.runtimeConfig.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.stopCh:
				return
			case <-ticker.C:
				ctx.step()
			}
		}
	}()
	log.Infof("engine started")
	<-ctx.stopCh
	log.Infof("engine complete")
}
