package logging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Swind/go-task-runtime/core"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *capture) write(prefix, args string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, prefix+" "+args)
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func newCaptured(verbosity int) (*capture, *Logger) {
	c := &capture{}
	sink := funcr.New(c.write, funcr.Options{Verbosity: verbosity})
	return c, New(sink)
}

func TestLogger_LevelsMapToLogr(t *testing.T) {
	c, logger := newCaptured(0)

	logger.Debug("hidden", core.F("k", 1))
	logger.Info("started", core.F("workers", 4))
	logger.Warn("rejected", core.F("reason", "shutdown"))
	logger.Error("failed", core.F("error", errors.New("boom")), core.F("task", "t1"))

	lines := c.all()
	require.Len(t, lines, 3, "debug is suppressed at verbosity 0")
	assert.Contains(t, lines[0], `"msg"="started"`)
	assert.Contains(t, lines[0], `"workers"=4`)
	assert.Contains(t, lines[1], `"severity"="warning"`)
	assert.Contains(t, lines[2], `"error"="boom"`)
	assert.Contains(t, lines[2], `"task"="t1"`)
}

func TestLogger_DebugAtVerbosity(t *testing.T) {
	c, logger := newCaptured(DebugLevel)
	logger.Debug("visible")

	lines := c.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg"="visible"`)
}

func TestLogger_WithValues(t *testing.T) {
	c, logger := newCaptured(0)
	logger.WithValues(core.F("scheduler", "s1")).Info("hello")

	lines := c.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"scheduler"="s1"`)
}

// TestLogger_SchedulerFailure verifies scheduler failure logging goes through logr.
// Given: a scheduler using the adapter as its logger
// When: a task panics
// Then: an error record naming the task is written
func TestLogger_SchedulerFailure(t *testing.T) {
	c, logger := newCaptured(0)

	cfg := core.DefaultSchedulerConfig()
	cfg.Workers = 1
	cfg.Logger = logger
	sched := core.NewScheduler(cfg)

	_, err := sched.SpawnFunc("panicky", core.Func(func(ctx context.Context) error {
		panic("kaboom")
	}))
	require.NoError(t, err)
	sched.AwaitAll()
	sched.Shutdown()

	var found bool
	for _, line := range c.all() {
		if strings.Contains(line, `"msg"="task failed"`) && strings.Contains(line, `"task"="panicky"`) {
			found = true
		}
	}
	assert.True(t, found, "expected a task failed record, got %v", c.all())
}

func TestNewStdLogger(t *testing.T) {
	logger := NewStdLogger("runtime", false)
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("hello", core.F("k", "v")) })
}
