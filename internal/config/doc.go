// Package config loads the daemon configuration.
//
// Settings are resolved in three layers, later layers overriding earlier
// ones:
//
//  1. Built-in defaults (Default)
//  2. A configuration file, TOML or YAML by extension (Load)
//  3. LUMEN_ environment variables (ApplyEnv)
//
// # Configuration Files
//
//	# lumen.toml
//	instance = "0"
//	dataDir = "/var/lib/lumen"
//
//	[logging]
//	level = "debug"
//
//	[plugins]
//	autostartDelay = "4s"
//	shutdownGrace = "3s"
//	searchPaths = ["/usr/share/lumen/lua"]
//
//	[metrics]
//	listen = "127.0.0.1:9100"
//
// Unknown keys in a file are rejected. Durations are strings accepted by
// time.ParseDuration.
//
// # Environment Variables
//
// LUMEN_INSTANCE, LUMEN_DATA_DIR, LUMEN_PLUGINS_DIR, LUMEN_DATABASE,
// LUMEN_LOG_LEVEL, LUMEN_LOG_JSON and LUMEN_LOG_FILE map to the top-level
// and logging settings. Other variables name a section and a setting:
// LUMEN_PLUGINS_KILL_WAIT sets plugins.killWait. Lists are JSON arrays or
// comma separated.
package config
