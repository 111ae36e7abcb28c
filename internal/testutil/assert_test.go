package testutil

import (
	"errors"
	"fmt"
	"testing"
)

// mockTB captures whether a test failure occurred.
type mockTB struct {
	testing.TB // embedded for unimplemented methods
	failed     bool
}

func (m *mockTB) Helper()                           {}
func (m *mockTB) Fatal(args ...any)                 { m.failed = true }
func (m *mockTB) Fatalf(format string, args ...any) { m.failed = true }

func TestEqual(t *testing.T) {
	m := &mockTB{}
	Equal(m, "foo", "foo")
	if m.failed {
		t.Error("Equal(foo, foo) should pass")
	}
	Equal(m, 1, 2)
	if !m.failed {
		t.Error("Equal(1, 2) should fail")
	}
}

func TestSliceEqual(t *testing.T) {
	m := &mockTB{}
	SliceEqual(m, []uint32{1, 3, 6}, []uint32{1, 3, 6})
	if m.failed {
		t.Error("equal slices should pass")
	}
	SliceEqual(m, []uint32{1, 3}, []uint32{1, 3, 6})
	if !m.failed {
		t.Error("slices of different length should fail")
	}
}

func TestErrorHelpers(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := fmt.Errorf("context: %w", sentinel)

	m := &mockTB{}
	NoError(m, nil)
	ErrorIs(m, wrapped, sentinel)
	Error(m, wrapped)
	if m.failed {
		t.Fatal("passing assertions reported failure")
	}

	NoError(m, wrapped)
	if !m.failed {
		t.Error("NoError should fail on non-nil error")
	}

	m.failed = false
	ErrorIs(m, errors.New("other"), sentinel)
	if !m.failed {
		t.Error("ErrorIs should fail for unrelated error")
	}

	m.failed = false
	Error(m, nil)
	if !m.failed {
		t.Error("Error should fail on nil")
	}
}

func TestGreater(t *testing.T) {
	m := &mockTB{}
	Greater(m, 2, 1)
	Greater(m, 1.5, 1.0)
	if m.failed {
		t.Fatal("Greater should pass")
	}
	Greater(m, 1, 1)
	if !m.failed {
		t.Error("Greater(1, 1) should fail")
	}
}

func TestFormatMsg(t *testing.T) {
	tests := []struct {
		args []any
		want string
	}{
		{nil, "assertion failed"},
		{[]any{"plain"}, "plain"},
		{[]any{"device %s", "sw1"}, "device sw1"},
		{[]any{42}, "assertion failed"},
	}
	for _, tt := range tests {
		if got := formatMsg(tt.args); got != tt.want {
			t.Errorf("formatMsg(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
