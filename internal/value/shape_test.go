package value

import "testing"

func TestShapeTransitionIsDeterministic(t *testing.T) {
	reg := NewShapeRegistry()
	root := reg.Root(ShapeClass)

	foo := NewSymbol("foo")
	s1, err := reg.Transition(root, foo, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := reg.Transition(root, foo, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("two insertions of the same key must reuse the same child shape")
	}

	bar := NewSymbol("bar")
	s3, err := reg.Transition(root, bar, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s3 == s1 {
		t.Fatal("distinct keys must produce distinct child shapes")
	}
}

func TestShapeOffsetLookup(t *testing.T) {
	reg := NewShapeRegistry()
	root := reg.Root(ShapeClass)
	foo := NewSymbol("foo")
	s, err := reg.Transition(root, foo, FieldReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	off, flags, ok := s.Offset(foo)
	if !ok || off != 0 {
		t.Fatalf("Offset(foo) = (%d, %v), want (0, true)", off, ok)
	}
	if flags != FieldReadOnly {
		t.Fatalf("flags = %v, want FieldReadOnly", flags)
	}
	if _, _, ok := s.Offset(NewSymbol("missing")); ok {
		t.Fatal("Offset should not find an absent key")
	}
}

func TestShapeRegistryReservesBuiltins(t *testing.T) {
	reg := NewShapeRegistry()
	for id := ShapeID(0); id < firstUserShapeID; id++ {
		s, ok := reg.Lookup(id)
		if !ok || s.ID != id {
			t.Fatalf("built-in shape %d missing", id)
		}
	}
}
