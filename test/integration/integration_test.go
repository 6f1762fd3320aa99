package integration_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/fglock/perlcore/config"
	"github.com/fglock/perlcore/engine"
)

// ---------------------------------------------------------------------------
// Fixture format
// ---------------------------------------------------------------------------

// fixture is one program and what running it must produce. Stderr is a
// substring match; stdout is exact.
type fixture struct {
	Name   string   `yaml:"name"`
	Source string   `yaml:"source"`
	Stdout string   `yaml:"stdout"`
	Stderr string   `yaml:"stderr"`
	Exit   int      `yaml:"exit"`
	Args   []string `yaml:"args"`
	Strict bool     `yaml:"strict"`
}

type suite struct {
	Cases []fixture `yaml:"cases"`
}

func loadSuite(t *testing.T, path string) suite {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var s suite
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return s
}

func run(t *testing.T, fx fixture) (stdout, stderr string, code int) {
	t.Helper()
	cfg := config.Default()
	cfg.Pragmas.Strict = fx.Strict
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer e.Close()
	var out, errOut bytes.Buffer
	e.SetOutput(&out, &errOut)

	err = e.RunSource(fx.Source, "test.pl", fx.Args...)
	errOut.WriteString(engine.Message(err))
	return out.String(), errOut.String(), engine.ExitCode(err)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestFixtures(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no fixtures found")
	}
	for _, file := range files {
		s := loadSuite(t, file)
		group := strings.TrimSuffix(filepath.Base(file), ".yaml")
		for _, fx := range s.Cases {
			fx := fx
			t.Run(group+"/"+fx.Name, func(t *testing.T) {
				stdout, stderr, code := run(t, fx)
				if stdout != fx.Stdout {
					t.Errorf("stdout = %q, want %q", stdout, fx.Stdout)
				}
				if fx.Stderr != "" && !strings.Contains(stderr, fx.Stderr) {
					t.Errorf("stderr = %q, want it to contain %q", stderr, fx.Stderr)
				}
				if fx.Stderr == "" && fx.Exit == 0 && stderr != "" {
					t.Errorf("unexpected stderr %q", stderr)
				}
				if code != fx.Exit {
					t.Errorf("exit = %d, want %d", code, fx.Exit)
				}
			})
		}
	}
}

// The same unit run twice must not share lexical state between runs.
func TestRerunUnit(t *testing.T) {
	e, err := engine.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	var out bytes.Buffer
	e.SetOutput(&out, &out)

	u, err := e.Compile(`my $n; $n++; print $n;`, "rerun.pl")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := e.Run(u); err != nil {
			t.Fatal(err)
		}
	}
	if out.String() != "11" {
		t.Errorf("output = %q, want 11", out.String())
	}
}
