package compiler

// Node is any syntax tree node. Pos is the index of the node's first token
// and is what the source map records.
type Node interface {
	Pos() int
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

type at int

func (p at) Pos() int { return int(p) }

// Program is a parsed compilation unit.
type Program struct {
	File  string
	Body  *Block
	Lines []int // line of every token, indexed by token position
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

type (
	// Block is a braced statement sequence and a lexical scope. Inline
	// blocks wrap the statement of a statement modifier and open no scope.
	Block struct {
		at
		Stmts  []Stmt
		Inline bool
	}

	ExprStmt struct {
		at
		X Expr
	}

	// IfStmt covers if/elsif/else and unless.
	IfStmt struct {
		at
		Cond Expr
		Then *Block
		Else Stmt // *Block, *IfStmt or nil
	}

	// WhileStmt covers while and until loops. PostCond marks the
	// do BLOCK while COND form, whose body runs before the first test.
	WhileStmt struct {
		at
		Label    string
		Cond     Expr // nil means forever
		Until    bool
		PostCond bool
		Body     *Block
		Continue *Block
	}

	// ForStmt is the three-part C-style loop.
	ForStmt struct {
		at
		Label string
		Init  Expr
		Cond  Expr
		Step  Expr
		Body  *Block
	}

	// ForeachStmt iterates List, aliasing Var to each element.
	ForeachStmt struct {
		at
		Label string
		Var   *VarRef // nil means $_
		My    string  // "my", "our", "state" or ""
		List  Expr
		Body  *Block
	}

	// BareBlock is a block statement, which behaves as a loop that runs
	// once.
	BareBlock struct {
		at
		Label string
		Body  *Block
	}

	SubDecl struct {
		at
		Name string
		Body *Block // nil for a forward declaration
	}

	PackageDecl struct {
		at
		Name string
		Body *Block // nil for the statement form
	}

	// UseStmt is a use or no pragma.
	UseStmt struct {
		at
		No     bool
		Module string
		Args   []string
	}
)

func (*Block) stmtNode()       {}
func (*ExprStmt) stmtNode()    {}
func (*IfStmt) stmtNode()      {}
func (*WhileStmt) stmtNode()   {}
func (*ForStmt) stmtNode()     {}
func (*ForeachStmt) stmtNode() {}
func (*BareBlock) stmtNode()   {}
func (*SubDecl) stmtNode()     {}
func (*PackageDecl) stmtNode() {}
func (*UseStmt) stmtNode()     {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type (
	NumLit struct {
		at
		Int     int64
		Float   float64
		IsFloat bool
	}

	StrLit struct {
		at
		Value string
	}

	// InterpStr is a double-quoted string with interpolated parts.
	InterpStr struct {
		at
		Parts []Expr
	}

	UndefLit struct{ at }

	// VarRef names a variable by sigil: $x, @x, %x, or the code slot &x.
	VarRef struct {
		at
		Sigil byte
		Name  string
	}

	// ElemExpr indexes an array-valued Base.
	ElemExpr struct {
		at
		Base  Expr
		Index Expr
	}

	// HelemExpr indexes a hash-valued Base.
	HelemExpr struct {
		at
		Base Expr
		Key  Expr
	}

	LastIndexExpr struct {
		at
		Array Expr
	}

	// DerefExpr dereferences Ref as the container named by Sigil.
	DerefExpr struct {
		at
		Sigil byte
		Ref   Expr
	}

	// MyExpr declares or localizes variables. Decl is my, our, local or
	// state. Paren is set for the parenthesized list form.
	MyExpr struct {
		at
		Decl  string
		Vars  []Expr
		Paren bool
	}

	AssignExpr struct {
		at
		Op    string // "=" or a compound operator such as "+="
		Left  Expr
		Right Expr
	}

	BinaryExpr struct {
		at
		Op    string
		Left  Expr
		Right Expr
	}

	// LogicalExpr is a short-circuit operator: &&, || or //.
	LogicalExpr struct {
		at
		Op    string
		Left  Expr
		Right Expr
	}

	UnaryExpr struct {
		at
		Op string // "!", "-", "+"
		X  Expr
	}

	IncDecExpr struct {
		at
		Op     string // "++" or "--"
		Prefix bool
		X      Expr
	}

	TernaryExpr struct {
		at
		Cond Expr
		Then Expr
		Else Expr
	}

	ListExpr struct {
		at
		Items []Expr
	}

	RangeExpr struct {
		at
		Lo Expr
		Hi Expr
	}

	// FuncCall calls a named sub or builtin. Amp marks the &name form and
	// CurrentArgs the &name; form that passes the caller's @_. FH is the
	// file handle of print-like calls, Block the block of sort, map and
	// grep.
	FuncCall struct {
		at
		Name        string
		Args        []Expr
		Amp         bool
		CurrentArgs bool
		Parens      bool
		FH          string
		Block       *Block
		Cmp         Expr // named comparator of sort
	}

	// DynCall calls the code value Code evaluates to.
	DynCall struct {
		at
		Code        Expr
		Args        []Expr
		CurrentArgs bool
	}

	AnonSub struct {
		at
		Body *Block
	}

	AnonArray struct {
		at
		Items []Expr
	}

	AnonHash struct {
		at
		Items []Expr
	}

	RefExpr struct {
		at
		X Expr
	}

	EvalBlock struct {
		at
		Body *Block
	}

	EvalStr struct {
		at
		Src Expr // nil means $_
	}

	DoBlock struct {
		at
		Body *Block
	}

	// MatchExpr matches Target (nil means $_) against Pattern. A
	// substitution carries its Replacement, evaluated once per match.
	MatchExpr struct {
		at
		Target      Expr
		Pattern     Expr
		Flags       string
		Negate      bool
		Subst       bool
		Replacement Expr
	}

	QrExpr struct {
		at
		Pattern Expr
		Flags   string
	}

	ReturnExpr struct {
		at
		Value Expr // nil for a bare return
	}

	// LoopCtlExpr is last, next or redo.
	LoopCtlExpr struct {
		at
		Op    string
		Label string
	}

	// GotoSub is goto &name or goto &$code.
	GotoSub struct {
		at
		Target Expr
	}

	// PackageName is __PACKAGE__.
	PackageName struct{ at }
)

func (*NumLit) exprNode()        {}
func (*StrLit) exprNode()        {}
func (*InterpStr) exprNode()     {}
func (*UndefLit) exprNode()      {}
func (*VarRef) exprNode()        {}
func (*ElemExpr) exprNode()      {}
func (*HelemExpr) exprNode()     {}
func (*LastIndexExpr) exprNode() {}
func (*DerefExpr) exprNode()     {}
func (*MyExpr) exprNode()        {}
func (*AssignExpr) exprNode()    {}
func (*BinaryExpr) exprNode()    {}
func (*LogicalExpr) exprNode()   {}
func (*UnaryExpr) exprNode()     {}
func (*IncDecExpr) exprNode()    {}
func (*TernaryExpr) exprNode()   {}
func (*ListExpr) exprNode()      {}
func (*RangeExpr) exprNode()     {}
func (*FuncCall) exprNode()      {}
func (*DynCall) exprNode()       {}
func (*AnonSub) exprNode()       {}
func (*AnonArray) exprNode()     {}
func (*AnonHash) exprNode()      {}
func (*RefExpr) exprNode()       {}
func (*EvalBlock) exprNode()     {}
func (*EvalStr) exprNode()       {}
func (*DoBlock) exprNode()       {}
func (*MatchExpr) exprNode()     {}
func (*QrExpr) exprNode()        {}
func (*ReturnExpr) exprNode()    {}
func (*LoopCtlExpr) exprNode()   {}
func (*GotoSub) exprNode()       {}
func (*PackageName) exprNode()   {}

// FullName returns the variable name with its sigil, e.g. "@list".
func (v *VarRef) FullName() string {
	return string(v.Sigil) + v.Name
}
