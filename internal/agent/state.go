package agent

import "maps"

// State 是智能体私有的可变状态。它本身不加锁，
// 只能在 Agent 持有状态锁的单次处理器或行为调用中访问。
type State struct {
	values map[string]any
}

// NewState 创建一个空状态。
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Get 返回 key 对应的值。
func (s *State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set 写入 key 对应的值。
func (s *State) Set(key string, value any) {
	s.values[key] = value
}

// Delete 删除 key。
func (s *State) Delete(key string) {
	delete(s.values, key)
}

// Int 以 int64 读取计数类的值，不存在或类型不符时返回 0。
func (s *State) Int(key string) int64 {
	switch v := s.values[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	default:
		return 0
	}
}

// Incr 对计数类的值加上 delta 并返回新值。
func (s *State) Incr(key string, delta int64) int64 {
	next := s.Int(key) + delta
	s.values[key] = next
	return next
}

// String 以字符串读取值。
func (s *State) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Len 返回状态中的键数量。
func (s *State) Len() int {
	return len(s.values)
}

// Snapshot 返回状态的浅拷贝。
func (s *State) Snapshot() map[string]any {
	return maps.Clone(s.values)
}
