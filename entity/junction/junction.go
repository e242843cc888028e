package junction

import (
	"fmt"
	"sync"
	"time"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

// Junction 单个路口的信号状态机
// 说明：所有字段由mtx保护，各路口之间互不阻塞
type Junction struct {
	id       string
	name     string
	location entity.Location
	program  *trafficlight.Program

	mtx           sync.Mutex
	phase         entity.Phase
	phaseEntry    time.Time
	settling      bool             // 接管结束后的红灯缓冲期
	override      *entity.Override // 当前接管，nil表示无接管
}

// newJunction 创建路口，初始相位为GREEN
func newJunction(base input.Signal, timing trafficlight.Timing, now time.Time) (*Junction, error) {
	program, err := trafficlight.NewProgram(timing)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", base.ID, err)
	}
	return &Junction{
		id:         base.ID,
		name:       base.Name,
		location:   base.Location,
		program:    program,
		phase:      entity.PhaseGreen,
		phaseEntry: now,
	}, nil
}

func (j *Junction) ID() string {
	return j.id
}

// state 生成快照，调用方持有锁
func (j *Junction) state() entity.IntersectionState {
	t := j.program.Timing()
	s := entity.IntersectionState{
		ID:            j.id,
		Name:          j.name,
		Location:      j.location,
		Phase:         j.phase,
		PhaseEntry:    j.phaseEntry,
		PhaseDuration: j.program.Duration(j.phase, j.settling),
		Settling:      j.settling,
		Green:         t.Green,
		Yellow:        t.Yellow,
		Red:           t.Red,
	}
	if j.override != nil {
		o := *j.override
		s.Override = &o
		s.PhaseDuration = o.Expiry.Sub(j.phaseEntry)
	}
	return s
}

func (j *Junction) State() entity.IntersectionState {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	return j.state()
}

// Owner 有效接管的持有者
func (j *Junction) Owner(now time.Time) (string, bool) {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.override.Active(now) {
		return j.override.Owner, true
	}
	return "", false
}

// record 生成新进入相位的历史记录，调用方持有锁
func (j *Junction) record() entity.SignalStateRecord {
	r := entity.SignalStateRecord{
		SignalID:  j.id,
		State:     j.phase,
		StartTime: j.phaseEntry,
	}
	if j.override != nil {
		r.IsEmergencyOverride = true
		r.OverrideReason = j.override.Reason
		r.OverrideOwner = j.override.Owner
		r.EndTime = j.override.Expiry
	} else {
		r.EndTime = j.phaseEntry.Add(j.program.Duration(j.phase, j.settling))
	}
	r.StateDuration = int32(r.EndTime.Sub(r.StartTime).Round(time.Second) / time.Second)
	return r
}

// advance 定时相位切换
// 说明：存在接管（包括已过期但尚未被看门狗清除的接管）时不切换；每次调用最多切换一次
func (j *Junction) advance(now time.Time) *entity.SignalStateRecord {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.override != nil {
		return nil
	}
	if now.Sub(j.phaseEntry) < j.program.Duration(j.phase, j.settling) {
		return nil
	}
	j.phase = trafficlight.Next(j.phase)
	j.settling = false
	j.phaseEntry = now
	r := j.record()
	return &r
}

// applyOverride 施加接管
// 说明：同一持有者重复施加只延长到期时间，不产生新的历史记录
func (j *Junction) applyOverride(reason string, expiry time.Time, owner string, now time.Time) (*entity.SignalStateRecord, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: override owner must not be empty", entity.ErrInvalidInput)
	}
	if !expiry.After(now) {
		return nil, fmt.Errorf("%w: override expiry %v is not after %v", entity.ErrInvalidInput, expiry, now)
	}
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.override.Active(now) {
		if j.override.Owner != owner {
			return nil, fmt.Errorf("%w: signal %s held by %s until %v", entity.ErrConflict, j.id, j.override.Owner, j.override.Expiry)
		}
		if expiry.After(j.override.Expiry) {
			j.override.Expiry = expiry
		}
		return nil, nil
	}
	j.override = &entity.Override{Reason: reason, Expiry: expiry, Owner: owner}
	j.phase = entity.PhaseOverride
	j.phaseEntry = now
	j.settling = false
	r := j.record()
	return &r, nil
}

// release 解除接管并进入红灯缓冲期，调用方持有锁
func (j *Junction) release(now time.Time) entity.SignalStateRecord {
	j.override = nil
	j.phase = entity.PhaseRed
	j.settling = true
	j.phaseEntry = now
	return j.record()
}

// clearOverride 由持有者解除接管
func (j *Junction) clearOverride(owner string, now time.Time) (*entity.SignalStateRecord, error) {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.override == nil {
		return nil, fmt.Errorf("%w: signal %s has no override", entity.ErrNotOwner, j.id)
	}
	if j.override.Owner != owner {
		return nil, fmt.Errorf("%w: signal %s held by %s, not %s", entity.ErrNotOwner, j.id, j.override.Owner, owner)
	}
	r := j.release(now)
	return &r, nil
}

// transferOverride 将有效接管从from原子移交给to
func (j *Junction) transferOverride(from, to, reason string, expiry time.Time, now time.Time) (*entity.SignalStateRecord, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: override owner must not be empty", entity.ErrInvalidInput)
	}
	if !expiry.After(now) {
		return nil, fmt.Errorf("%w: override expiry %v is not after %v", entity.ErrInvalidInput, expiry, now)
	}
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if !j.override.Active(now) || j.override.Owner != from {
		return nil, fmt.Errorf("%w: signal %s is not held by %s", entity.ErrNotOwner, j.id, from)
	}
	j.override = &entity.Override{Reason: reason, Expiry: expiry, Owner: to}
	j.phaseEntry = now
	r := j.record()
	return &r, nil
}

// expire 看门狗：清除已过期的接管
func (j *Junction) expire(now time.Time) (*entity.ExpiredOverride, *entity.SignalStateRecord) {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.override == nil || j.override.Active(now) {
		return nil, nil
	}
	e := &entity.ExpiredOverride{SignalID: j.id, Owner: j.override.Owner, Expiry: j.override.Expiry}
	r := j.release(now)
	return e, &r
}
