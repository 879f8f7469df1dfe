package plugin

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lumen/internal/host"
)

// callbackScript registers handlers, then signals readiness through the
// log and waits for interruption.
const callbackScript = `
	local function onAny(c, enabled)
		plugin.log("any " .. c .. " " .. tostring(enabled), plugin.levels.INFO)
	end
	local function onFiltered(c, enabled)
		plugin.log("filtered " .. c .. ";", plugin.levels.INFO)
	end
	local function onOther(c, enabled)
		plugin.log("other " .. c .. ";", plugin.levels.INFO)
	end
	local function onTwice(c, enabled)
		plugin.log("twice " .. c .. ";", plugin.levels.INFO)
	end
	local function onGone(c, enabled)
		plugin.log("gone " .. c .. ";", plugin.levels.INFO)
	end

	local C = plugin.components
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onAny)
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onFiltered, {C.SMOOTHING, C.V4L})
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onOther, {C.GRABBER})
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onTwice)
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onTwice)
	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, onGone)
	plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, onGone)
	if plugin.unregisterCallback(onGone) ~= 2 then
		error("expected two registrations removed")
	end

	plugin.registerCallback(plugin.callbacks.ON_SETTINGS_CHANGED, function(s)
		plugin.log("settings " .. s.speed, plugin.levels.INFO)
	end)
	plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
		plugin.log("priority " .. p, plugin.levels.INFO)
	end)

	plugin.log("ready", plugin.levels.INFO)
` + scriptLoop

func startDeliverer(t *testing.T) (*runtimeFixture, *Runtime, *Deliverer) {
	t.Helper()
	f := newRuntimeFixture(t)
	rt := f.start(t, "service.alpha", callbackScript)
	require.Eventually(t, func() bool { return f.logs.Count("ready") == 1 }, waitFor, tick)

	d := NewDeliverer(rt)
	d.Start()
	return f, rt, d
}

func TestDeliverer_ComponentFilters(t *testing.T) {
	f, rt, d := startDeliverer(t)

	d.ComponentStateChanged(host.ComponentSmoothing, false)
	d.ComponentStateChanged(host.ComponentLEDDevice, true)
	d.VisiblePriorityChanged(64)

	require.Eventually(t, func() bool { return f.logs.Count("priority 64") == 1 }, waitFor, tick)

	smoothing := int(host.ComponentSmoothing)
	led := int(host.ComponentLEDDevice)

	// Unfiltered registrations always fire.
	assert.Equal(t, 1, f.logs.Count(fmt.Sprintf("any %d false", smoothing)))
	assert.Equal(t, 1, f.logs.Count(fmt.Sprintf("any %d true", led)))

	// Filtered to {SMOOTHING, V4L}: fires only for SMOOTHING.
	assert.Equal(t, 1, f.logs.Count(fmt.Sprintf("filtered %d;", smoothing)))
	assert.Equal(t, 0, f.logs.Count(fmt.Sprintf("filtered %d;", led)))

	// Filtered to {GRABBER}: never fires.
	assert.Equal(t, 0, f.logs.Count("other "))

	// Registered twice, fires once per event.
	assert.Equal(t, 1, f.logs.Count(fmt.Sprintf("twice %d;", smoothing)))
	assert.Equal(t, 1, f.logs.Count(fmt.Sprintf("twice %d;", led)))

	// Unregistered from every kind.
	assert.Equal(t, 0, f.logs.Count("gone "))

	rt.RequestInterruption()
	waitDone(t, rt)
	select {
	case <-d.Done():
	case <-timeAfter():
		t.Fatal("deliverer did not exit with its runtime")
	}
}

func TestDeliverer_PreservesOrder(t *testing.T) {
	f, _, d := startDeliverer(t)

	for p := 1; p <= 20; p++ {
		d.VisiblePriorityChanged(p)
	}
	require.Eventually(t, func() bool { return f.logs.Count("priority 20") == 1 }, waitFor, tick)

	logs := f.logs.String()
	last := -1
	for p := 1; p <= 20; p++ {
		idx := indexOf(logs, fmt.Sprintf("priority %d\n", p))
		require.Greater(t, idx, last, "priority %d delivered out of order", p)
		last = idx
	}
}

func TestDeliverer_SavedSettings(t *testing.T) {
	f, rt, d := startDeliverer(t)

	// Another plugin's settings and failed saves are ignored.
	d.PluginAction(ActionEvent{Action: ActionSaved, ID: "service.other", Success: true,
		Definition: &Definition{Settings: map[string]any{"speed": 1}}})
	d.PluginAction(ActionEvent{Action: ActionSaved, ID: "service.alpha", Success: false,
		Definition: &Definition{Settings: map[string]any{"speed": 2}}})
	d.PluginAction(ActionEvent{Action: ActionSaved, ID: "service.alpha", Success: true,
		Definition: &Definition{Settings: map[string]any{"speed": 3}}})

	require.Eventually(t, func() bool { return f.logs.Count("settings 3") == 1 }, waitFor, tick)
	assert.Equal(t, 0, f.logs.Count("settings 1"))
	assert.Equal(t, 0, f.logs.Count("settings 2"))
	assert.Equal(t, map[string]any{"speed": 3}, rt.Settings())
}

func TestDeliverer_DropsAfterRuntimeExit(t *testing.T) {
	_, rt, d := startDeliverer(t)
	rt.RequestInterruption()
	waitDone(t, rt)
	<-d.Done()

	d.VisiblePriorityChanged(1)
	assert.Equal(t, 0, d.Pending())
}
