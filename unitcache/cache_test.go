package unitcache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/fglock/perlcore/vm"
)

func testUnit() *vm.Unit {
	return &vm.Unit{
		Name:          "main",
		Code:          []int32{int32(vm.OpLoadInt), 3, 42, int32(vm.OpReturn), 3},
		RegisterCount: 4,
		Source:        &vm.SourceInfo{File: "t.pl", Lines: []int{1}},
		Package:       "main",
	}
}

func TestPutGet(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	key := Key("42", "t.pl", "main", vm.Pragmas{})
	if _, err := c.Get(key); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get before Put: err = %v, want ErrMiss", err)
	}
	if err := c.Put(key, testUnit()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	u, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.Name != "main" || u.RegisterCount != 4 || len(u.Code) != 5 {
		t.Errorf("Get returned %+v", u)
	}
	if u.File() != "t.pl" {
		t.Errorf("File() = %q, want t.pl", u.File())
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestPutReplaces(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	key := Key("x", "t.pl", "main", vm.Pragmas{})
	first := testUnit()
	second := testUnit()
	second.Name = "other"
	if err := c.Put(key, first); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(key, second); err != nil {
		t.Fatal(err)
	}
	u, err := c.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "other" {
		t.Errorf("Name = %q, want the replacing unit", u.Name)
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	key := Key("x", "t.pl", "main", vm.Pragmas{})
	if err := c.Put(key, testUnit()); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(key); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(key); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete: err = %v, want ErrMiss", err)
	}
}

func TestKey(t *testing.T) {
	base := Key("print 1", "a.pl", "main", vm.Pragmas{Features: []string{"say", "state"}})
	tests := []struct {
		name string
		key  string
		same bool
	}{
		{"identical", Key("print 1", "a.pl", "main", vm.Pragmas{Features: []string{"say", "state"}}), true},
		{"feature order", Key("print 1", "a.pl", "main", vm.Pragmas{Features: []string{"state", "say"}}), true},
		{"source", Key("print 2", "a.pl", "main", vm.Pragmas{Features: []string{"say", "state"}}), false},
		{"file", Key("print 1", "b.pl", "main", vm.Pragmas{Features: []string{"say", "state"}}), false},
		{"package", Key("print 1", "a.pl", "Foo", vm.Pragmas{Features: []string{"say", "state"}}), false},
		{"strict", Key("print 1", "a.pl", "main", vm.Pragmas{Strict: true, Features: []string{"say", "state"}}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.key == base) != tt.same {
				t.Errorf("key equality = %v, want %v", tt.key == base, tt.same)
			}
		})
	}
}
