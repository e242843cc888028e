package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Clock 协调器时钟
// 功能：为协调器tick提供统一的时间来源与步数计数
// 说明：生产环境使用墙钟；测试使用手动时钟，每次Tick前进固定的DT，保证结果可复现
type Clock struct {
	DT time.Duration // 每个tick的时间间隔

	step   atomic.Int64 // 当前步数
	start  time.Time    // 启动时刻
	manual bool         // 是否为手动时钟

	mtx sync.Mutex
	t   time.Time // 手动时钟的当前时刻
}

// New 创建墙钟
// 参数：interval-tick间隔（秒）
func New(interval float64) *Clock {
	c := &Clock{
		DT: time.Duration(interval * float64(time.Second)),
	}
	c.start = time.Now()
	return c
}

// NewManual 创建手动时钟
// 功能：时间只在Tick/Advance时前进，用于测试与离线回放
// 参数：start-起始时刻，interval-tick间隔
func NewManual(start time.Time, interval time.Duration) *Clock {
	return &Clock{
		DT:     interval,
		start:  start,
		manual: true,
		t:      start,
	}
}

// Now 获取当前时刻
func (c *Clock) Now() time.Time {
	if !c.manual {
		return time.Now()
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.t
}

// Tick 推进一步
// 功能：步数+1，手动时钟同时前进DT
// 返回：推进后的当前时刻
func (c *Clock) Tick() time.Time {
	c.step.Add(1)
	if c.manual {
		return c.Advance(c.DT)
	}
	return time.Now()
}

// Advance 手动时钟前进d，墙钟调用无效果
func (c *Clock) Advance(d time.Duration) time.Time {
	if !c.manual {
		return time.Now()
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// Step 当前步数
func (c *Clock) Step() int64 {
	return c.step.Load()
}

// Uptime 自启动以来经过的时间
func (c *Clock) Uptime() time.Duration {
	return c.Now().Sub(c.start)
}

// String 获取时钟的字符串表示
// 返回：运行时长（HH:MM:SS）
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 获取运行时长的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	t := c.Uptime().Seconds()
	hour := int(t) / 3600
	minute := int(t) % 3600 / 60
	second := t - float64(hour*3600+minute*60)
	return hour, minute, second
}
