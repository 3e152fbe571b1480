package encoding

import (
	"encoding/json"
	"testing"
)

type big struct {
	ID  string `json:"id"`
	Big int64  `json:"big"`
}

func Test_ToMap_KeepsLargeIntegers(t *testing.T) {
	m, err := ToMap(big{ID: "x", Big: 1<<53 + 1})
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["big"] != json.Number("9007199254740993") {
		t.Fatalf("got %v (%T) want 9007199254740993", m["big"], m["big"])
	}
	var back big
	if err := FromMap(m, &back); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	if back.Big != 1<<53+1 {
		t.Fatalf("got %d want %d", back.Big, int64(1<<53+1))
	}
}

func Test_ToMap_RejectsNonObjects(t *testing.T) {
	if _, err := ToMap([]int{1}); err == nil {
		t.Fatalf("expected error for an array")
	}
}

func Test_Unmarshal_TrailingData(t *testing.T) {
	var m map[string]any
	if err := DocumentMarshaler.Unmarshal([]byte(`{"a":1} {"b":2}`), &m); err == nil {
		t.Fatalf("expected error for trailing data")
	}
	ba := []byte("raw")
	var out []byte
	if err := Unmarshal(ba, &out); err != nil || string(out) != "raw" {
		t.Fatalf("got %q, %v want byte pass-through", out, err)
	}
}
