package value

import (
	"math"
	"testing"
)

func TestIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 1 << 30, -(1 << 30), (1 << 59) - 1, -(1 << 59)}
	for _, i := range cases {
		v := NewInt(i)
		if !v.IsInt() {
			t.Fatalf("NewInt(%d) is not tagged as int", i)
		}
		if got := v.Int(); got != i {
			t.Errorf("NewInt(%d).Int() = %d", i, got)
		}
	}
}

func TestFloatRoundTripModuloMantissa(t *testing.T) {
	cases := []float64{0, 1.5, -2.25, 3.14159265, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := NewFloat(f)
		if !v.IsFloat() {
			t.Fatalf("NewFloat(%v) is not tagged as float", f)
		}
		got := v.Float()
		wantBits := math.Float64bits(f) &^ 0xF
		if math.Float64bits(got) != wantBits {
			t.Errorf("NewFloat(%v).Float() bits = %x, want %x", f, math.Float64bits(got), wantBits)
		}
	}
}

func TestBoolRoundTrip(t *testing.T) {
	if !True.Bool() || False.Bool() {
		t.Fatal("bool constants decode incorrectly")
	}
	if True.Tag() != TagBool || False.Tag() != TagBool {
		t.Fatal("bool constants not tagged TagBool")
	}
}

func TestSmallStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "charly7"}
	for _, s := range cases {
		v, ok := NewSmallString(s)
		if !ok {
			t.Fatalf("NewSmallString(%q) rejected", s)
		}
		if got := string(v.View()); got != s {
			t.Errorf("NewSmallString(%q).View() = %q", s, got)
		}
	}
	if _, ok := NewSmallString("toolongbyone"); ok {
		t.Fatal("NewSmallString accepted a string longer than 7 bytes")
	}
}

func TestErrorSentinelsEncodeInsideNull(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("Null is not IsNull")
	}
	for _, kind := range []ErrorKind{ErrorException, ErrorNotFound, ErrorOutOfBounds, ErrorReadOnly, ErrorNoBaseClass} {
		v := NewError(kind)
		if v.Tag() != TagNull {
			t.Fatalf("error sentinel %v not tagged TagNull", kind)
		}
		if !v.IsError() {
			t.Fatalf("error sentinel %v not IsError", kind)
		}
		if v.ErrorKind() != kind {
			t.Fatalf("error sentinel round trip: got %v want %v", v.ErrorKind(), kind)
		}
	}
}

func TestSymbolHash(t *testing.T) {
	a := NewSymbol("foo")
	b := NewSymbol("foo")
	c := NewSymbol("bar")
	if a != b {
		t.Fatal("identical symbols must encode identically")
	}
	if a == c {
		t.Fatal("distinct symbols collided (extremely unlikely for this test vector)")
	}
	if a.Tag() != TagSymbol {
		t.Fatal("symbol not tagged TagSymbol")
	}
}

func TestPointerTagIsSingleBitTest(t *testing.T) {
	young := NewPointer(0x1000, true)
	old := NewPointer(0x1000, false)
	if !young.IsYoungPointer() {
		t.Fatal("young pointer not detected")
	}
	if old.IsYoungPointer() {
		t.Fatal("old pointer mistakenly detected as young")
	}
	if young.Address() != 0x1000 || old.Address() != 0x1000 {
		t.Fatal("pointer address payload corrupted by tag")
	}
}
