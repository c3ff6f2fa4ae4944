package snapshot

import (
	"encoding/json"
	"testing"

	"kvsd/internal/store"
)

func TestFreezeProducesSortedJSONRecord(t *testing.T) {
	tb := store.NewTable()
	tb.Write([]store.KV{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}})

	buf := Freeze(tb)
	var rec Record
	if err := json.Unmarshal(buf, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rec.Pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(rec.Pairs))
	}
	if rec.Pairs[0].Key != "a" || rec.Pairs[1].Key != "b" {
		t.Fatalf("expected sorted pairs, got %+v", rec.Pairs)
	}
}
