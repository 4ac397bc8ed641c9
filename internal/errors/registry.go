package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (S100-S119)
	"S100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The configuration file does not exist or cannot be read.",
	},
	"S101": {
		Category: CategoryConfig,
		Message:  "Config parse error",
	},
	"S102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	"S103": {
		Category: CategoryConfig,
		Message:  "Invalid group declaration",
	},

	// Command line (S120-S139)
	"S120": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},

	// Snapshot stores (S140-S159)
	"S140": {
		Category: CategoryStore,
		Message:  "Snapshot store unavailable",
		Detail:   "The snapshot backend could not be configured.",
	},
	"S141": {
		Category: CategoryStore,
		Message:  "Snapshot restore failed",
	},

	// Server (S160-S179)
	"S160": {
		Category: CategoryServer,
		Message:  "Server failed",
	},
	"S161": {
		Category: CategoryServer,
		Message:  "Group registration failed",
	},
}

// Codes returns all registered error codes in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
