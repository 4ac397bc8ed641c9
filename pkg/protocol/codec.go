package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors.
var (
	ErrMessageTooLarge  = errors.New("protocol: message too large")
	ErrMaxDepthExceeded = errors.New("protocol: maximum nesting depth exceeded")
	ErrNotObject        = errors.New("protocol: message is not a JSON object")
)

// Decode parses one message using the default limits.
func Decode(data []byte) (Message, error) {
	return DecodeWithLimits(data, DefaultLimits())
}

// DecodeWithLimits parses one message. Numbers are kept as json.Number so
// integer payloads survive a round trip through the server untouched.
func DecodeWithLimits(data []byte, limits Limits) (Message, error) {
	if limits.MaxSize > 0 && len(data) > limits.MaxSize {
		return nil, ErrMessageTooLarge
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("protocol: decode: trailing data after message")
	}
	if m == nil {
		return nil, ErrNotObject
	}

	if limits.MaxDepth > 0 && depth(m, limits.MaxDepth) > limits.MaxDepth {
		return nil, ErrMaxDepthExceeded
	}

	return Message(m), nil
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}
