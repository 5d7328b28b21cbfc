package core

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

const defaultTaskHistoryCapacity = 100

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// resolveTaskName prefers the explicit name, then the name of the function
// behind a func-typed routine, then "anonymous".
func resolveTaskName(routine Routine, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if routine == nil {
		return anonymousOwner
	}

	v := reflect.ValueOf(routine)
	if v.Kind() != reflect.Func {
		return anonymousOwner
	}

	pc := v.Pointer()
	if pc == 0 {
		return anonymousOwner
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return anonymousOwner
	}

	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
