package ustr

import "testing"

func TestEq(t *testing.T) {
	a := Ustr("task-a")
	b := Ustr("task-a")
	c := Ustr("task-b")
	if !a.Eq(b) {
		t.Fatal("expected equal")
	}
	if a.Eq(c) {
		t.Fatal("expected not equal")
	}
	if a.Eq(Ustr("task-a-longer")) {
		t.Fatal("different lengths must not compare equal")
	}
}

func TestMkUstrSlice(t *testing.T) {
	buf := []uint8{'h', '2', 'o', 0, 'x', 'x'}
	us := MkUstrSlice(buf)
	if us.String() != "h2o" {
		t.Fatalf("got %q", us.String())
	}

	noNul := []uint8{'k', 'e', 'r', 'n'}
	us = MkUstrSlice(noNul)
	if us.String() != "kern" {
		t.Fatalf("got %q", us.String())
	}
}

func TestIndexByte(t *testing.T) {
	us := Ustr("a/b/c")
	if i := us.IndexByte('/'); i != 1 {
		t.Fatalf("got %d", i)
	}
	if i := us.IndexByte('z'); i != -1 {
		t.Fatalf("got %d", i)
	}
}

func TestMkUstrEmpty(t *testing.T) {
	us := MkUstr()
	if len(us) != 0 {
		t.Fatal("expected empty")
	}
}
