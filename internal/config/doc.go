// Package config loads uisync.json, the configuration file of the uisync
// server command.
//
// Every field is optional. Durations are strings in Go syntax. Comments
// and trailing commas are allowed.
//
//	{
//	  // Listen on all interfaces.
//	  "server": {
//	    "address": ":8080",
//	    "path": "/json",
//	    "websocketPath": "/json/ws",
//	    "maxRequestSize": 1048576,
//	    "shutdownTimeout": "30s",
//	    "compress": true
//	  },
//	  "session": {
//	    "idleTimeout": "30m",
//	    "sweepInterval": "1m",
//	    "maxSessions": 10000
//	  },
//	  "httpSession": {
//	    "cookieName": "UISYNCSESSION",
//	    "secure": true,
//	    "sameSite": "strict"
//	  },
//	  "log": {"level": "debug", "format": "json"},
//	  "static": {"dir": "public"},
//	  "metrics": {"enabled": true},
//	  "tracing": {"enabled": false}
//	}
//
// Load the file and turn it into a server configuration:
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    errors.Fprint(os.Stderr, err)
//	    os.Exit(1)
//	}
//	sc, err := cfg.ServerConfig()
//
// [Watch] reports later edits of the file.
package config
