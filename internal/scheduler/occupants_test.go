package scheduler

import (
	"encoding/json"
	"testing"
)

func TestOccupants(t *testing.T) {
	t.Parallel()

	o := NewOccupants("u2", " u1 ", "", "u2")
	if o.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", o.Len())
	}
	if !o.Contains("u1") || o.Contains("u3") || o.Contains("") {
		t.Fatalf("unexpected membership: %v", o.IDs())
	}

	grown := o.With("u3")
	if o.Contains("u3") {
		t.Fatal("With mutated the receiver")
	}
	if !grown.Contains("u3") {
		t.Fatal("With did not add member")
	}

	var zero Occupants
	if !zero.IsEmpty() || zero.Contains("u1") {
		t.Fatal("zero value should be empty")
	}
}

func TestOccupantsJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewOccupants("b", "a"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["a","b"]` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var decoded Occupants
	if err := json.Unmarshal([]byte(`[3, "7", 3]`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(NewOccupants("3", "7")) {
		t.Fatalf("unexpected members %v", decoded.IDs())
	}

	if err := json.Unmarshal([]byte(`[{"id":1}]`), &decoded); err == nil {
		t.Fatal("expected error for object member")
	}
}
