// Package errors provides coded, actionable errors for the uisync command
// line: configuration problems and CLI misuse.
//
// Each code maps to a registered template carrying a short message, a
// longer explanation and a documentation link. Callers attach a location
// (for configuration files) and a suggestion:
//
//	err := errors.New("E102").
//	    WithLocation("uisync.json", 7, 21).
//	    WithSuggestion(`Durations use Go syntax, e.g. "30m" or "90s".`)
//
//	fmt.Print(err.Format())
//	// ERROR E102: Invalid duration
//	//
//	//   uisync.json:7:21
//	//
//	//        6 │   "session": {
//	//   →    7 │     "idleTimeout": "half an hour",
//	//          │                    ^
//	//        8 │     "sweepInterval": "1m"
//	//
//	//   Hint: Durations use Go syntax, e.g. "30m" or "90s".
//
// Codes E100-E119 are configuration errors, E200-E219 are CLI errors.
package errors
