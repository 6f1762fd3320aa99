package compiler

import (
	"strings"
	"testing"
)

func TestLexTokenKinds(t *testing.T) {
	src := "my $x = \"a\" . 1.5;\ns/a/b/g; qw(a b)\n@{$r} $#a"
	toks, err := Lex(src, "t.pl")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		kind TokenKind
		text string
		line int
	}{
		{TokIdent, "my", 1},
		{TokVar, "$x", 1},
		{TokOp, "=", 1},
		{TokString, `"a"`, 1},
		{TokOp, ".", 1},
		{TokNumber, "1.5", 1},
		{TokOp, ";", 1},
		{TokSubst, "s/a/b/g", 2},
		{TokOp, ";", 2},
		{TokQuote, "qw(a b)", 2},
		{TokCast, "@{", 3},
		{TokVar, "$r", 3},
		{TokOp, "}", 3},
		{TokVar, "$#a", 3},
		{TokEOF, "", 3},
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, w := range want {
		got := toks[i]
		if got.Kind != w.kind || got.Text != w.text || got.Line != w.line {
			t.Errorf("token %d = {%d %q line %d}, want {%d %q line %d}", i, got.Kind, got.Text, got.Line, w.kind, w.text, w.line)
		}
	}
}

func TestLexSkipsPodAndData(t *testing.T) {
	src := "1;\n=pod\n\nignored $text\n\n=cut\n2;\n__END__\n3;\n"
	toks, err := Lex(src, "t.pl")
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, tok := range toks {
		texts = append(texts, tok.String())
	}
	if got := strings.Join(texts, " "); got != "1 ; 2 ; end of file" {
		t.Errorf("tokens = %q", got)
	}
	if toks[2].Line != 7 {
		t.Errorf("token after POD on line %d, want 7", toks[2].Line)
	}
}

func TestLexOffsets(t *testing.T) {
	toks, err := Lex("foo  $bar", "t.pl")
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Offset != 0 || toks[1].Offset != 5 {
		t.Errorf("offsets = %d, %d, want 0, 5", toks[0].Offset, toks[1].Offset)
	}
}

func TestLexUnrecognizedCharacter(t *testing.T) {
	_, err := Lex("1;\n`ls`", "t.pl")
	if err == nil {
		t.Fatal("expected a lex error")
	}
	if got := err.Error(); got != "Unrecognized character at t.pl line 2." {
		t.Errorf("error = %q", got)
	}
}
