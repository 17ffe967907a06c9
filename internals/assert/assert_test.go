package assert

import (
	"errors"
	"testing"
)

func TestAssertNilDoesNotPanicOnNil(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	var err error
	AssertNil(err, "should not panic")
	Assert(true, "should not panic")
}

func TestAssertNilPanicsOnValue(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic")
		}
	}()
	AssertNil(errors.New("boom"), "expected nil")
}
