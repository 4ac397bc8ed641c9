package protocol

import (
	"strconv"
	"testing"
)

func pageMessage(n int) Message {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{
			FieldID:    "item-" + strconv.Itoa(i),
			FieldValue: map[string]any{"title": "task " + strconv.Itoa(i), "done": i%2 == 0},
		}
	}
	msg := New("list", "tasks", FuncSetAll)
	msg[FieldPage] = 0
	msg[FieldPageSize] = n
	msg[FieldTotalItemCount] = n * 4
	msg[FieldItems] = items
	return msg
}

func BenchmarkEncode_Set(b *testing.B) {
	msg := New("var", "volume", FuncSet)
	msg[FieldValue] = 42
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(msg)
	}
}

func BenchmarkDecode_Set(b *testing.B) {
	data := []byte(`{"type":"var","name":"volume","func":"set","value":42}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(data)
	}
}

func BenchmarkEncode_Page(b *testing.B) {
	msg := pageMessage(25)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(msg)
	}
}

func BenchmarkDecode_Page(b *testing.B) {
	data, err := Encode(pageMessage(25))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(data)
	}
}
