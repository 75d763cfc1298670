package errors

import "slices"

// Template defines a registered error.
type Template struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://uisync.dev/docs/errors/"

var registry = map[string]Template{
	// Configuration errors (E100-E119)
	"E100": {
		Category: CategoryConfig,
		Message:  "Configuration file not readable",
		Detail:   "The configuration file exists but could not be read. Check its permissions.",
		DocURL:   docBase + "E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid JSON in configuration file",
		Detail:   "uisync.json must hold a single JSON object. Comments and trailing commas are allowed.",
		DocURL:   docBase + "E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Timeouts and intervals are strings in Go duration syntax.",
		DocURL:   docBase + "E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid endpoint path",
		Detail:   "Endpoint paths must be absolute and must not collide with each other.",
		DocURL:   docBase + "E103",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid log setting",
		Detail:   `The log level must be one of "debug", "info", "warn" or "error" and the format one of "text" or "json".`,
		DocURL:   docBase + "E104",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Static directory not found",
		Detail:   "The directory configured under static.dir does not exist or is not a directory.",
		DocURL:   docBase + "E105",
	},
	"E106": {
		Category: CategoryConfig,
		Message:  "Invalid limit",
		Detail:   "Sizes and session limits must not be negative.",
		DocURL:   docBase + "E106",
	},
	"E107": {
		Category: CategoryConfig,
		Message:  "Invalid cookie setting",
		Detail:   `The cookie name must be non-empty and sameSite one of "lax", "strict" or "none".`,
		DocURL:   docBase + "E107",
	},

	// CLI errors (E200-E219)
	"E200": {
		Category: CategoryCLI,
		Message:  "Address already in use",
		Detail:   "Another process is listening on the configured address. Stop it or choose another with --addr.",
		DocURL:   docBase + "E200",
	},
	"E201": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
		Detail:   "A command line flag could not be applied to the configuration.",
		DocURL:   docBase + "E201",
	},
	"E202": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The server stopped with an error.",
		DocURL:   docBase + "E202",
	},
}

// Codes returns all registered error codes in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
