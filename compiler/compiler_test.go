package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fglock/perlcore/vm"
)

// run compiles src as t.pl and executes it in void context.
func run(t *testing.T, src string) (string, error) {
	t.Helper()
	u, err := CompileSource(src, Options{File: "t.pl"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v\n%s", err, vm.Disassemble(u))
	}
	rt := vm.NewRuntime(nil)
	rt.UseCompiler(CompileEval)
	var out bytes.Buffer
	rt.Stdout = &out
	rt.Stderr = &out
	_, err = rt.Execute(u, nil, vm.VoidContext)
	return out.String(), err
}

func TestCompileAndRun(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", `print 2 + 3 * 4, "\n";`, "14\n"},
		{"interpolation", `my @a = (1, 2); my %h = (k => 'v'); print "$a[1] $h{k} @a\n";`, "2 v 1 2\n"},
		{"string repeat", `print "-" x 3, "\n";`, "---\n"},
		{"ternary", `my $n = 5; print $n > 3 ? "big" : "small", "\n";`, "big\n"},
		{"unless", `unless (0) { print "ran\n" }`, "ran\n"},
		{"statement modifier", `my $i = 0; $i++ while $i < 4; print "$i\n";`, "4\n"},
		{"closure", `my $add = sub { $_[0] + $_[1] }; print $add->(2, 3), "\n";`, "5\n"},
		{"named sub", `sub sq { my ($x) = @_; return $x * $x } print sq(6), "\n";`, "36\n"},
		{"package", `package Foo; our $v = 3; package main; print "$Foo::v\n";`, "3\n"},
		{"eval string", `my $x = 20; print eval('$x + 1'), "\n";`, "21\n"},
		{"last value", `my $r = do { 1; 2; 3 }; print "$r\n";`, "3\n"},
		{"say", `use feature 'say'; say "hi";`, "hi\n"},
		{"list repeat", `my @x = (1, 2) x 2; print "@x ", scalar(@x), "\n";`, "1 2 1 2 4\n"},
		{"single item list repeat", `my @x = ('a') x 3; print "@x\n";`, "a a a\n"},
		{"qw repeat", `print join(",", qw(a b) x 2), "\n";`, "a,b,a,b\n"},
		{"list repeat in scalar context", `my $s = (1, 2) x 2; print "$s\n";`, "22\n"},
		{"repeat overflow", `my $r = eval { "ab" x 4611686018427387904 }; print defined($r) ? "def" : "undef", " $@";`,
			"undef Out of memory in string repetition at t.pl line 1.\n"},
		{"substitute on declaration", `my $s = "foo"; (my $t = $s) =~ s/o/0/g; print "$s $t\n";`, "foo f00\n"},
		{"last index interpolation", `my @a = (1, 2, 3); my $r = [7]; print "$#a $#{$r}\n";`, "2 0\n"},
		{"while declaration", `my @q = (1, 2, 3); my $sum = 0; while (my $n = shift @q) { $sum += $n; } print "$sum\n";`, "6\n"},
		{"until", `my $i = 0; until ($i >= 3) { $i++; } print "$i\n";`, "3\n"},
		{"while continue", `my $i = 0; while ($i < 3) { print $i; } continue { $i++; } print "\n";`, "012\n"},
		{"for next last", `for (my $i = 0; $i < 5; $i++) { next if $i == 1; last if $i == 3; print $i; } print "\n";`, "02\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.src)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"strict vars", "use strict;\n$x = 1;",
			`Global symbol "$x" requires explicit package name (did you forget to declare "my $x"?) at t.pl line 2.`},
		{"local lexical", "my $x; local $x = 1;",
			"Can't localize lexical variable $x at t.pl line 1."},
		{"state list", "use feature 'state'; state ($p, $q) = (1, 2);",
			"Initialization of state variables in list currently forbidden at t.pl line 1."},
		{"state without feature", "state $n = 1;",
			`state variables require "use feature 'state'" at t.pl line 1.`},
		{"my in package", "my $Foo::x;",
			`"my" variable $Foo::x can't be in a package at t.pl line 1.`},
		{"our with package", "our $Foo::x;",
			`No package name allowed for variable $Foo::x in "our" at t.pl line 1.`},
		{"syntax", "my $x = 1 +;",
			`syntax error near ";" at t.pl line 1.`},
		{"unterminated", "1 +",
			"syntax error at EOF at t.pl line 1."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource(tt.src, Options{File: "t.pl"})
			if err == nil {
				t.Fatal("expected a compile error")
			}
			if _, ok := err.(*CompileError); !ok {
				t.Errorf("error is %T, want *CompileError", err)
			}
			if got := err.Error(); got != tt.want {
				t.Errorf("error = %q\nwant    %q", got, tt.want)
			}
		})
	}
}

func TestRegisterBudget(t *testing.T) {
	_, err := CompileSource("my $a = 1; my $b = 2; my $c = $a + $b;", Options{File: "t.pl", MaxRegisters: 4})
	if err == nil || !strings.Contains(err.Error(), "Too many registers in main (limit 4)") {
		t.Errorf("err = %v, want a register budget error", err)
	}
}

func TestCompileEvalCaptures(t *testing.T) {
	env := &vm.EvalEnv{Names: []string{"$x", "@list"}, Package: "Foo", Pragmas: vm.Pragmas{Strict: true}}
	u, err := CompileEval("$x + @list", env)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Validate(); err != nil {
		t.Fatal(err)
	}
	if strings.Join(u.CaptureNames, ",") != "$x,@list" {
		t.Errorf("CaptureNames = %v", u.CaptureNames)
	}
	if u.Package != "Foo" || !u.Pragmas.Strict {
		t.Errorf("unit package %q, strict %v", u.Package, u.Pragmas.Strict)
	}
	if !strings.HasPrefix(u.File(), "(eval ") {
		t.Errorf("File() = %q, want an (eval N) name", u.File())
	}

	if _, err := CompileEval("$y", env); err == nil || !strings.Contains(err.Error(), `Global symbol "$y"`) {
		t.Errorf("strict should be inherited, err = %v", err)
	}
}

func TestVersionMinor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"5.010", 10},
		{"5.10.1", 10},
		{"v5.36", 36},
		{"5.012_001", 12},
		{"5", 0},
	}
	for _, tt := range tests {
		if got := versionMinor(tt.in); got != tt.want {
			t.Errorf("versionMinor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestApplyPragma(t *testing.T) {
	var p vm.Pragmas
	applyPragma(&p, &UseStmt{Module: "VERSION", Args: []string{"5.012"}})
	if !p.Strict || !p.HasFeature("say") || !p.HasFeature("state") {
		t.Errorf("use 5.012 gave %+v", p)
	}
	applyPragma(&p, &UseStmt{Module: "feature", Args: []string{"say"}, No: true})
	if p.HasFeature("say") || !p.HasFeature("state") {
		t.Errorf("no feature 'say' gave %+v", p)
	}
	applyPragma(&p, &UseStmt{Module: "strict", No: true})
	if p.Strict {
		t.Error("no strict left strict on")
	}
	applyPragma(&p, &UseStmt{Module: "Data::Dumper"})
	if p.Warnings {
		t.Error("unknown modules should not change pragmas")
	}
}

// backwardJumps counts the jumps of u that target an earlier position.
func backwardJumps(u *vm.Unit) (cond, uncond int) {
	for pc := 0; pc < len(u.Code); {
		op := vm.Opcode(u.Code[pc])
		if op.IsJump() {
			j := strings.IndexByte(vm.GetOpcodeInfo(op).Operands, 'J')
			if int(u.Code[pc+1+j]) <= pc {
				if op == vm.OpJump {
					uncond++
				} else {
					cond++
				}
			}
		}
		pc += vm.InstructionLen(u.Code, pc)
	}
	return cond, uncond
}

func TestLoopsTestAtBottom(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"while", "my $i = 0; while ($i < 3) { $i++; }"},
		{"until", "my $i = 0; until ($i == 3) { $i++; }"},
		{"while continue", "my $i = 0; while ($i < 3) { 1; } continue { $i++; }"},
		{"for", "for (my $j = 0; $j < 2; $j++) { print $j; }"},
		{"statement modifier", "my $i = 0; $i++ while $i < 4;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := CompileSource(tt.src, Options{File: "t.pl"})
			if err != nil {
				t.Fatal(err)
			}
			cond, uncond := backwardJumps(u)
			if cond != 1 || uncond != 0 {
				t.Errorf("backward jumps: %d conditional, %d unconditional, want 1 and 0\n%s", cond, uncond, vm.Disassemble(u))
			}
		})
	}
}

func TestDisassembleCompiledUnit(t *testing.T) {
	u, err := CompileSource("my $f = sub { 1 }; print $f->();", Options{File: "t.pl"})
	if err != nil {
		t.Fatal(err)
	}
	out := vm.Disassemble(u)
	for _, want := range []string{"; === main ===", "MAKE_CLOSURE", "CALL_BUILTIN", "RETURN"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
