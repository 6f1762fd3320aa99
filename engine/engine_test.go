package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fglock/perlcore/config"
	"github.com/fglock/perlcore/vm"
)

func newEngine(t *testing.T, cfg *config.Config) (*Engine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	var stdout, stderr bytes.Buffer
	e.SetOutput(&stdout, &stderr)
	return e, &stdout, &stderr
}

func TestRunSource(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", `print 2 + 3;`, "5"},
		{"eval string", `print eval "1 + 2";`, "3"},
		{"closure", `my $n = 0; my $inc = sub { $n++ }; $inc->() for 1..3; print $n;`, "3"},
		{"argv", `print scalar(@ARGV), " ", $ARGV[1];`, "2 b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, stdout, _ := newEngine(t, nil)
			if err := e.RunSource(tt.src, "t.pl", "a", "b"); err != nil {
				t.Fatalf("RunSource: %v", err)
			}
			if got := stdout.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code int
		msg  string
	}{
		{"die", `die "boom";`, 255, "boom at t.pl line 1.\n"},
		{"die newline", "die \"boom\\n\";", 255, "boom\n"},
		{"exit", `exit 3;`, 3, ""},
		{"exit zero", `exit;`, 0, ""},
		{"escaping last", `sub f { last } f();`, 255, "Can't \"last\" outside a loop block\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newEngine(t, nil)
			err := e.RunSource(tt.src, "t.pl")
			if tt.code != 0 && err == nil {
				t.Fatal("expected error")
			}
			if got := ExitCode(err); got != tt.code {
				t.Errorf("ExitCode = %d, want %d (err %v)", got, tt.code, err)
			}
			if got := Message(err); got != tt.msg {
				t.Errorf("Message = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestCompileError(t *testing.T) {
	cfg := config.Default()
	cfg.Pragmas.Strict = true
	e, _, _ := newEngine(t, cfg)
	_, err := e.Compile(`$x = 1;`, "t.pl")
	if err == nil {
		t.Fatal("expected strict error")
	}
	if !strings.Contains(err.Error(), `Global symbol "$x" requires explicit package name`) {
		t.Errorf("error = %q", err)
	}
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	e, stdout, _ := newEngine(t, nil)
	if err := e.RunSource(`$count = 41;`, "a.pl"); err != nil {
		t.Fatal(err)
	}
	if err := e.RunSource(`print ++$count;`, "b.pl"); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "42" {
		t.Errorf("output = %q, want 42", stdout.String())
	}
}

func TestUnitCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = true
	cfg.Cache.Path = filepath.Join(t.TempDir(), "units.db")
	e, stdout, _ := newEngine(t, cfg)

	src := `print "hi";`
	first, err := e.Compile(src, "t.pl")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := e.cache.Len(); n != 1 {
		t.Fatalf("cache holds %d units, want 1", n)
	}
	second, err := e.Compile(src, "t.pl")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("second compile should decode a fresh unit from the cache")
	}
	if err := e.Run(second); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "hi" {
		t.Errorf("output = %q, want hi", stdout.String())
	}
}

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.pl")
	if err := os.WriteFile(path, []byte("print \"hello\\n\";\n"), 0644); err != nil {
		t.Fatal(err)
	}
	e, stdout, _ := newEngine(t, nil)
	if err := e.RunFile(path); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("output = %q", stdout.String())
	}
	if err := e.RunFile(filepath.Join(t.TempDir(), "missing.pl")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestMaxDepth(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.MaxDepth = 20
	e, _, _ := newEngine(t, cfg)
	err := e.RunSource(`sub r { r() } r();`, "t.pl")
	if err == nil {
		t.Fatal("expected recursion failure")
	}
	if _, ok := vm.AsGuestFailure(err); !ok {
		t.Errorf("error %T is not a guest failure", err)
	}
	if !strings.Contains(err.Error(), "Deep recursion limit (20) exceeded") {
		t.Errorf("error = %q", err)
	}
}
