package protocol

const (
	// MaxMessageSize is the largest encoded message Decode accepts.
	MaxMessageSize = 64 * 1024

	// MaxDepth limits nesting of objects and arrays inside a message.
	// Payload values are opaque to the server, so this is the only guard
	// against pathological documents.
	MaxDepth = 64
)

// Limits allows configuring custom decode limits.
// Use DefaultLimits() for sensible defaults.
type Limits struct {
	// MaxSize is the maximum encoded size in bytes.
	MaxSize int

	// MaxDepth is the maximum nesting depth.
	MaxDepth int
}

// DefaultLimits returns the default decode limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSize:  MaxMessageSize,
		MaxDepth: MaxDepth,
	}
}

// depth returns the nesting depth of a decoded JSON value, stopping early
// once max is exceeded.
func depth(v any, max int) int {
	return depthAt(v, 0, max)
}

func depthAt(v any, current, max int) int {
	if current > max {
		return current
	}
	deepest := current
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if d := depthAt(child, current+1, max); d > deepest {
				deepest = d
			}
		}
	case Message:
		for _, child := range t {
			if d := depthAt(child, current+1, max); d > deepest {
				deepest = d
			}
		}
	case []any:
		for _, child := range t {
			if d := depthAt(child, current+1, max); d > deepest {
				deepest = d
			}
		}
	}
	return deepest
}
