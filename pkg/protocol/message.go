package protocol

import (
	"encoding/json"
	"math"
)

// Envelope and payload field names.
const (
	FieldType           = "type"
	FieldName           = "name"
	FieldFunc           = "func"
	FieldValue          = "value"
	FieldID             = "id"
	FieldIndex          = "index"
	FieldPage           = "page"
	FieldPageSize       = "page_size"
	FieldTotalItemCount = "total_item_count"
	FieldItems          = "items"
	FieldArgs           = "args"
	FieldError          = "error"
	FieldMessage        = "message"
	FieldGroupType      = "group_type"
)

// Command names carried in the "func" field.
const (
	FuncGet          = "get"
	FuncSet          = "set"
	FuncSetAll       = "set_all"
	FuncInsert       = "insert"
	FuncDelete       = "delete"
	FuncCall         = "call"
	FuncReturn       = "return"
	FuncSubscribe    = "subscribe"
	FuncUnsubscribe  = "unsubscribe"
	FuncNameError    = "name_error"
	FuncGeneralError = "general_error"
)

// TypeError is the reserved "type" value of error messages.
const TypeError = "error"

// Message is one decoded protocol message: a JSON object with string keys.
// Values keep whatever shape the decoder produced; numbers decoded by Decode
// are json.Number.
type Message map[string]any

// New returns a message with the standard envelope set.
func New(groupType, name, fn string) Message {
	return Message{
		FieldType: groupType,
		FieldName: name,
		FieldFunc: fn,
	}
}

// Type returns the "type" field.
func (m Message) Type() string {
	s, _ := m.String(FieldType)
	return s
}

// Name returns the "name" field.
func (m Message) Name() string {
	s, _ := m.String(FieldName)
	return s
}

// Func returns the "func" field.
func (m Message) Func() string {
	s, _ := m.String(FieldFunc)
	return s
}

// Has reports whether key is present, even if its value is null.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value at key if it is a string.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Int returns the value at key as an int. JSON numbers, Go integer kinds and
// integral floats are accepted; anything else reports false.
func (m Message) Int(key string) (int, bool) {
	return ToInt(m[key])
}

// Bool returns the value at key if it is a bool.
func (m Message) Bool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// Map returns the value at key if it is a JSON object.
func (m Message) Map(key string) (map[string]any, bool) {
	switch v := m[key].(type) {
	case map[string]any:
		return v, true
	case Message:
		return v, true
	}
	return nil, false
}

// Slice returns the value at key if it is a JSON array.
func (m Message) Slice(key string) ([]any, bool) {
	switch v := m[key].(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

// Clone returns a shallow copy of m.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every field of other into m and returns m.
func (m Message) Merge(other Message) Message {
	for k, v := range other {
		m[k] = v
	}
	return m
}

// IsError reports whether m is one of the error shapes.
func (m Message) IsError() bool {
	return m.Type() == TypeError
}

// ToInt converts a decoded JSON number to int. Values outside the int
// range are rejected.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int64ToInt(n)
	case uint:
		return uint64ToInt(uint64(n))
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return uint64ToInt(uint64(n))
	case uint64:
		return uint64ToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int64ToInt(i)
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	}
	return 0, false
}

func int64ToInt(n int64) (int, bool) {
	if n > math.MaxInt || n < math.MinInt {
		return 0, false
	}
	return int(n), true
}

func uint64ToInt(n uint64) (int, bool) {
	if n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

func floatToInt(f float64) (int, bool) {
	if f != math.Trunc(f) || f > math.MaxInt || f < math.MinInt {
		return 0, false
	}
	return int(f), true
}

// NameError builds the message reporting an unknown item id within a group.
func NameError(groupType, groupName, itemID string) Message {
	return Message{
		FieldType:      TypeError,
		FieldFunc:      FuncNameError,
		FieldGroupType: groupType,
		FieldName:      groupName,
		FieldID:        itemID,
	}
}

// GeneralError builds the message reporting a protocol violation.
func GeneralError(message string) Message {
	return Message{
		FieldType:    TypeError,
		FieldFunc:    FuncGeneralError,
		FieldMessage: message,
	}
}
