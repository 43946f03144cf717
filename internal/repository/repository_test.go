package repository

import "testing"

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to NULL")
	}
	if p := nullable("x"); p == nil || *p != "x" {
		t.Errorf("expected pointer to x, got %v", p)
	}
	if deref(nil) != "" || deref(nullable("y")) != "y" {
		t.Error("deref mismatch")
	}
}
