// Package api provides the Lua modules exposed to plugin scripts.
//
// Scripts reach the host through the "plugin" module, available as a global
// and through require("plugin"):
//
//	plugin.log("starting", plugin.levels.INFO)
//	plugin.registerCallback(plugin.callbacks.ON_VISIBLE_PRIORITY_CHANGED, function(p)
//	    plugin.log("visible priority is now " .. p)
//	end)
//	while not plugin.abort() do
//	    plugin.setColor(255, 0, 0)
//	    plugin.sleep(1000)
//	end
//
// Every function resolves the calling plugin from the Lua state it runs in.
// Once a plugin has been asked to stop, functions with side effects return
// nil without acting; log, abort and unregisterCallback keep working.
//
// Constants live in separate tables so their values never collide:
// plugin.callbacks, plugin.levels and plugin.components.
//
// The "json" module adds JSON encoding and gjson/sjson path access.
package api
