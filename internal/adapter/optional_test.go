package adapter

import (
	"encoding/json"
	"testing"
)

func TestOptionalDistinguishesAbsentFromNull(t *testing.T) {
	var patch struct {
		Name  Optional[string] `json:"name"`
		Image Optional[string] `json:"image"`
		Email Optional[string] `json:"email"`
	}
	if err := json.Unmarshal([]byte(`{"name":null,"image":"lorempicsum"}`), &patch); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !patch.Name.IsSet() || patch.Name.Get() != nil {
		t.Fatalf("expected name to be explicitly cleared")
	}
	if !patch.Image.IsSet() || *patch.Image.Get() != "lorempicsum" {
		t.Fatalf("expected image to be supplied")
	}
	if patch.Email.IsSet() {
		t.Fatalf("expected email to be absent")
	}

	current := stringPointer("kept")
	patch.Email.Apply(&current)
	if current == nil || *current != "kept" {
		t.Fatalf("expected absent field to leave target untouched")
	}
	patch.Name.Apply(&current)
	if current != nil {
		t.Fatalf("expected null field to clear target")
	}
}

func TestMaybeEncodesEmptyAsObject(t *testing.T) {
	encoded, err := json.Marshal(Empty[VerificationToken]())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(encoded) != "{}" {
		t.Fatalf("expected {}, got %s", encoded)
	}

	encoded, err = json.Marshal(Found(Session{SessionToken: "s1", UserID: "u1"}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["sessionToken"] != "s1" || decoded["userId"] != "u1" {
		t.Fatalf("unexpected encoding: %s", encoded)
	}
}
