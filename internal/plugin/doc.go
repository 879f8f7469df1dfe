// Package plugin hosts Lua service plugins.
//
// Each installed plugin lives in its own directory below the plugins
// directory:
//
//	plugins/service.rainbow/
//	├── plugin.json      # Definition
//	├── main.lua         # Entry script
//	└── lib/
//	    └── helper.lua   # require("lib.helper")
//
// The definition names the plugin, its version, the plugins it depends on
// and a JSON Schema for its settings:
//
//	{
//	  "name": "Rainbow",
//	  "version": "1.0.0",
//	  "dependencies": {"lumen": "2.0.0", "lib.colors": "1.0.0"},
//	  "settingsSchema": {
//	    "type": "object",
//	    "properties": {"speed": {"type": "integer", "default": 10}}
//	  }
//	}
//
// Only plugins whose id starts with "service." can be started. A started
// plugin runs its entry script once, on its own goroutine and in its own
// Lua state, with the plugin module installed:
//
//	plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
//	    plugin.log("visible priority is now " .. p, plugin.levels.INFO)
//	end)
//
//	while not plugin.abort() do
//	    plugin.setColor(255, 0, 0)
//	    plugin.sleep(1000)
//	end
//
// Host events reach the script only at plugin.abort() and plugin.sleep().
// Stopping is cooperative: a script that never calls either is only
// stopped by forced termination when the Manager shuts down.
//
// # Components
//
//   - Loader: installed plugin catalog
//   - Runtime: one running instance of a plugin
//   - Deliverer: per-runtime relay of host events into the script
//   - Manager: start, stop, restart and lifecycle actions
//   - ScriptWatcher: restarts plugins whose scripts change
//   - System: wires everything together
package plugin
