package trafficlight

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

// Timing 一个路口的信号配时
type Timing struct {
	Green  time.Duration `json:"green"`
	Yellow time.Duration `json:"yellow"`
	Red    time.Duration `json:"red"`
}

// Validate 检查所有时长为正
func (t Timing) Validate() error {
	if t.Green <= 0 || t.Yellow <= 0 || t.Red <= 0 {
		return fmt.Errorf("%w: timing durations must be positive, got green=%v yellow=%v red=%v",
			entity.ErrInvalidInput, t.Green, t.Yellow, t.Red)
	}
	return nil
}

// Program 固定周期信号灯程序
// 功能：维护GREEN→YELLOW→RED→GREEN的循环与各相位时长
// 说明：配时可由外部自适应策略随时替换，状态机通过原子读取获得一致的配时
type Program struct {
	timing atomic.Pointer[Timing]
}

// NewProgram 创建信号灯程序
// 参数：timing-初始配时
// 返回：程序实例；配时非法时返回错误
func NewProgram(timing Timing) (*Program, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	p := &Program{}
	p.timing.Store(&timing)
	return p, nil
}

// Timing 当前配时
func (p *Program) Timing() Timing {
	return *p.timing.Load()
}

// Set 替换配时，下一次相位切换时生效
func (p *Program) Set(timing Timing) error {
	if err := timing.Validate(); err != nil {
		return err
	}
	p.timing.Store(&timing)
	return nil
}

// Duration 相位的计划时长
// 参数：phase-相位，settling-是否处于接管结束后的红灯缓冲期
// 说明：缓冲期红灯只持续一个黄灯时长；OVERRIDE没有计划时长，由接管到期时间决定
func (p *Program) Duration(phase entity.Phase, settling bool) time.Duration {
	t := p.timing.Load()
	switch phase {
	case entity.PhaseGreen:
		return t.Green
	case entity.PhaseYellow:
		return t.Yellow
	case entity.PhaseRed:
		if settling {
			return t.Yellow
		}
		return t.Red
	default:
		return 0
	}
}

// Next 正常循环中的下一相位
func Next(phase entity.Phase) entity.Phase {
	switch phase {
	case entity.PhaseGreen:
		return entity.PhaseYellow
	case entity.PhaseYellow:
		return entity.PhaseRed
	default:
		return entity.PhaseGreen
	}
}
