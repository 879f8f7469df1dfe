package plugin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/api"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

type runtimeFixture struct {
	dir     string
	logs    *syncBuffer
	engine  *plua.Engine
	modules *api.Registry
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	f := &runtimeFixture{
		dir:    t.TempDir(),
		logs:   &syncBuffer{},
		engine: plua.NewEngine(),
	}
	muxer := host.NewMuxer()
	modules, err := api.DefaultRegistry(&api.Context{
		Components: host.NewRegistry(),
		Colors:     muxer,
		Priorities: muxer,
	}, f.engine)
	require.NoError(t, err)
	f.modules = modules
	return f
}

// start installs a plugin running script and starts a runtime for it.
func (f *runtimeFixture) start(t *testing.T, id, script string, mutate ...func(*RuntimeConfig)) *Runtime {
	t.Helper()
	pdir := writePlugin(t, f.dir, id, nil, map[string]string{"main.lua": script})
	def, err := LoadDefinition(pdir)
	require.NoError(t, err)

	cfg := RuntimeConfig{
		Engine:     f.engine,
		Modules:    f.modules,
		Logger:     testLogger(f.logs),
		FinishPoll: 5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	rt := NewRuntime(id, def, cfg)
	require.NoError(t, rt.Start())
	t.Cleanup(func() {
		rt.Kill()
		<-rt.Done()
	})
	return rt
}

func waitDone(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(waitFor):
		t.Fatalf("runtime %s did not finish", rt.ID())
	}
}

func TestRuntime_NaturalFinish(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", scriptReturn)
	assert.NotEmpty(t, rt.Identity())

	waitDone(t, rt)
	assert.Equal(t, StateStopped, rt.State())
	assert.False(t, rt.HasError())
	assert.NoError(t, rt.Err())
	assert.Equal(t, 1, f.logs.Count("plugin.service.alpha: hello"))
	assert.Equal(t, 0, f.engine.Len(), "context must be released")

	assert.ErrorIs(t, rt.Start(), ErrRuntimeStarted)
}

func TestRuntime_ScriptError(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", `
		local function explode()
			error("boom")
		end
		explode()
	`)
	waitDone(t, rt)

	assert.True(t, rt.HasError())
	var serr *plua.ScriptError
	require.ErrorAs(t, rt.Err(), &serr)
	assert.Contains(t, serr.Message, "boom")

	logs := f.logs.String()
	assert.Contains(t, logs, "[ERROR] test.plugin.service.alpha: ###### LUA EXCEPTION ######")
	assert.Contains(t, logs, "## In service.alpha (service.alpha)")
	assert.Contains(t, logs, "boom")
	assert.Contains(t, logs, "###### EXCEPTION END ######")
}

func TestRuntime_MissingEntry(t *testing.T) {
	f := newRuntimeFixture(t)
	pdir := writePlugin(t, f.dir, "service.alpha", nil, nil)
	def, err := LoadDefinition(pdir)
	require.NoError(t, err)

	rt := NewRuntime("service.alpha", def, RuntimeConfig{Engine: f.engine, Modules: f.modules})
	require.NoError(t, rt.Start())
	waitDone(t, rt)
	assert.True(t, rt.HasError())
}

func TestRuntime_RequiresEngine(t *testing.T) {
	rt := NewRuntime("service.alpha", &Definition{Name: "Alpha"}, RuntimeConfig{})
	assert.Error(t, rt.Start())
}

func TestRuntime_InterruptionIsMonotonic(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", `
		while not plugin.abort() do
			plugin.sleep(5)
		end
		for i = 1, 10 do
			if not plugin.abort() then
				error("interruption was withdrawn")
			end
		end
		-- Host calls short-circuit once interrupted.
		if plugin.getSettings() ~= nil then
			error("getSettings should return nil")
		end
		if plugin.sleep(10000) ~= true then
			error("sleep should return true")
		end
	`)

	assert.Eventually(t, func() bool { return rt.State() == StateRunning }, waitFor, tick)
	assert.False(t, rt.InterruptionRequested())

	assert.True(t, rt.RequestInterruption())
	assert.False(t, rt.RequestInterruption(), "second request is a no-op")
	assert.True(t, rt.InterruptionRequested())

	waitDone(t, rt)
	assert.False(t, rt.HasError(), "logs: %s", f.logs.String())
}

func TestRuntime_KillNonCooperative(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", scriptBusy)
	assert.Eventually(t, func() bool { return rt.State() == StateRunning }, waitFor, tick)

	rt.RequestInterruption()
	select {
	case <-rt.Done():
		t.Fatal("busy script must ignore interruption")
	case <-time.After(50 * time.Millisecond):
	}

	rt.Kill()
	waitDone(t, rt)
	assert.ErrorIs(t, rt.Err(), plua.ErrTerminated)
	assert.False(t, rt.HasError())
	assert.Contains(t, f.logs.String(), "ForcedTermination")
}

func TestRuntime_KillBeforeContext(t *testing.T) {
	f := newRuntimeFixture(t)
	pdir := writePlugin(t, f.dir, "service.alpha", nil, map[string]string{"main.lua": scriptBusy})
	def, err := LoadDefinition(pdir)
	require.NoError(t, err)

	rt := NewRuntime("service.alpha", def, RuntimeConfig{Engine: f.engine, Modules: f.modules})
	rt.Kill()
	require.NoError(t, rt.Start())
	waitDone(t, rt)
}

func TestRuntime_DeliversAtCheckpoints(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", `
		plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
			plugin.log("visible " .. p, plugin.levels.INFO)
		end)
		plugin.registerCallback(plugin.callbacks.ON_SETTINGS_CHANGED, function(s)
			plugin.log("speed " .. s.speed, plugin.levels.INFO)
		end)
		`+scriptLoop)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	// The first delivery can race callback registration; retry until seen.
	require.Eventually(t, func() bool {
		require.NoError(t, rt.DeliverVisiblePriority(ctx, 42))
		return f.logs.Count("visible 42") > 0
	}, waitFor, tick)

	require.NoError(t, rt.DeliverSettings(ctx, map[string]any{"speed": 7}))
	assert.Equal(t, 1, f.logs.Count("speed 7"))
	assert.Equal(t, map[string]any{"speed": 7}, rt.Settings())

	rt.RequestInterruption()
	waitDone(t, rt)

	err := rt.DeliverVisiblePriority(ctx, 1)
	assert.True(t, errors.Is(err, plua.ErrExecutorClosed), "got %v", err)
}

func TestRuntime_HandlerErrorDoesNotStopPlugin(t *testing.T) {
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", `
		plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
			error("handler failed")
		end)
		plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
			plugin.log("second " .. p, plugin.levels.INFO)
		end)
		`+scriptLoop)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.Eventually(t, func() bool {
		require.NoError(t, rt.DeliverVisiblePriority(ctx, 3))
		return f.logs.Count("second 3") > 0
	}, waitFor, tick)

	assert.Contains(t, f.logs.String(), "handler failed")
	assert.Equal(t, StateRunning, rt.State())
	assert.False(t, rt.HasError())
}

func TestRuntime_DependencySearchPath(t *testing.T) {
	f := newRuntimeFixture(t)
	libDir := writePlugin(t, f.dir, "lib.colors", nil, map[string]string{
		"palette.lua": `return { red = "#ff0000" }`,
	})

	rt := f.start(t, "service.alpha", `
		local palette = require("palette")
		plugin.log("red is " .. palette.red, plugin.levels.INFO)
		if not string.find(package.path, "lib.colors", 1, true) then
			error("dependency missing from package.path")
		end
	`, func(cfg *RuntimeConfig) {
		cfg.DependencyPaths = []string{libDir}
	})
	waitDone(t, rt)

	assert.False(t, rt.HasError(), "logs: %s", f.logs.String())
	assert.Equal(t, 1, f.logs.Count("red is #ff0000"))
	assert.Equal(t, filepath.Join(f.dir, "lib.colors"), libDir)
}
