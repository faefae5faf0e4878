package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "AgentPair-Chain/internal/errors"
)

// Behavior 是按固定间隔主动执行的逻辑。
type Behavior interface {
	Run(ctx context.Context, env *Env) error
}

// BehaviorFunc 将普通函数适配为 Behavior。
type BehaviorFunc func(ctx context.Context, env *Env) error

// Run 调用 f。
func (f BehaviorFunc) Run(ctx context.Context, env *Env) error {
	return f(ctx, env)
}

// ScheduledBehavior 是一次到期选择的结果。
type ScheduledBehavior struct {
	Name     string
	Behavior Behavior
	Interval time.Duration
}

type behaviorEntry struct {
	ScheduledBehavior
	lastRun time.Time
}

// BehaviorRegistry 保存按注册顺序排列的行为，每个行为独立记录上次执行时间。
type BehaviorRegistry struct {
	mu      sync.Mutex
	entries []*behaviorEntry
	now     func() time.Time
}

// NewBehaviorRegistry 创建行为注册表，now 为 nil 时使用 time.Now。
func NewBehaviorRegistry(now func() time.Time) *BehaviorRegistry {
	if now == nil {
		now = time.Now
	}
	return &BehaviorRegistry{now: now}
}

// Register 注册行为。上次执行时间从注册时刻起算，因此首次执行在一个间隔之后。
// 同名行为被替换时保留原有位置并重新计时。
func (r *BehaviorRegistry) Register(name string, b Behavior, interval time.Duration) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return xerrors.New(CodeInvalidUnit, "行为名称不能为空")
	}
	if b == nil {
		return xerrors.Newf(CodeInvalidUnit, "行为 %s 不能为空", name)
	}
	if interval <= 0 {
		return xerrors.Newf(CodeInvalidUnit, "行为 %s 的执行间隔必须大于 0", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &behaviorEntry{
		ScheduledBehavior: ScheduledBehavior{Name: name, Behavior: b, Interval: interval},
		lastRun:           r.now(),
	}
	for i, existing := range r.entries {
		if existing.Name == name {
			r.entries[i] = entry
			return nil
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Remove 移除行为，返回是否存在。
func (r *BehaviorRegistry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Names 按注册顺序返回行为名称。
func (r *BehaviorRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entries))
	for i, entry := range r.entries {
		names[i] = entry.Name
	}
	return names
}

// LastRun 返回行为的上次执行时间。
func (r *BehaviorRegistry) LastRun(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.Name == name {
			return entry.lastRun, true
		}
	}
	return time.Time{}, false
}

// RunDue 按注册顺序返回距上次执行已满一个间隔的行为，并把它们的上次执行时间推进到 now。
// 延迟不会累积补偿：无论错过多少个间隔，一次选择只执行一次。
func (r *BehaviorRegistry) RunDue(now time.Time) []ScheduledBehavior {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []ScheduledBehavior
	for _, entry := range r.entries {
		if now.Sub(entry.lastRun) >= entry.Interval {
			entry.lastRun = now
			due = append(due, entry.ScheduledBehavior)
		}
	}
	return due
}

func invokeBehavior(ctx context.Context, sb ScheduledBehavior, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeBehaviorFailed, fmt.Sprintf("行为 panic: %v", r),
				xerrors.WithMetadata("behavior", sb.Name))
		}
	}()
	if err := sb.Behavior.Run(ctx, env); err != nil {
		if _, coded := xerrors.From(err); coded {
			return err
		}
		return xerrors.Wrap(CodeBehaviorFailed, err, fmt.Sprintf("执行行为 %s 失败", sb.Name),
			xerrors.WithMetadata("behavior", sb.Name))
	}
	return nil
}
