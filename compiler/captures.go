package compiler

// ---------------------------------------------------------------------------
// Tree walking
// ---------------------------------------------------------------------------

// children returns the direct subnodes of n in evaluation order. With
// intoClosures unset, bodies that compile to separate units are left out.
func children(n Node, intoClosures bool) []Node {
	var out []Node
	add := func(xs ...Node) {
		for _, x := range xs {
			if x != nil && !isNilNode(x) {
				out = append(out, x)
			}
		}
	}
	addExprs := func(xs []Expr) {
		for _, x := range xs {
			add(x)
		}
	}
	switch x := n.(type) {
	case *Block:
		for _, s := range x.Stmts {
			add(s)
		}
	case *ExprStmt:
		add(x.X)
	case *IfStmt:
		add(x.Cond, x.Then, x.Else)
	case *WhileStmt:
		add(x.Cond, x.Body, x.Continue)
	case *ForStmt:
		add(x.Init, x.Cond, x.Step, x.Body)
	case *ForeachStmt:
		add(x.List, x.Var, x.Body)
	case *BareBlock:
		add(x.Body)
	case *SubDecl:
		if intoClosures {
			add(x.Body)
		}
	case *PackageDecl:
		add(x.Body)
	case *InterpStr:
		addExprs(x.Parts)
	case *ElemExpr:
		add(x.Base, x.Index)
	case *HelemExpr:
		add(x.Base, x.Key)
	case *LastIndexExpr:
		add(x.Array)
	case *DerefExpr:
		add(x.Ref)
	case *MyExpr:
		addExprs(x.Vars)
	case *AssignExpr:
		add(x.Right, x.Left)
	case *BinaryExpr:
		add(x.Left, x.Right)
	case *LogicalExpr:
		add(x.Left, x.Right)
	case *UnaryExpr:
		add(x.X)
	case *IncDecExpr:
		add(x.X)
	case *TernaryExpr:
		add(x.Cond, x.Then, x.Else)
	case *ListExpr:
		addExprs(x.Items)
	case *RangeExpr:
		add(x.Lo, x.Hi)
	case *FuncCall:
		add(x.Cmp)
		if intoClosures {
			add(x.Block)
		}
		addExprs(x.Args)
	case *DynCall:
		add(x.Code)
		addExprs(x.Args)
	case *AnonSub:
		if intoClosures {
			add(x.Body)
		}
	case *AnonArray:
		addExprs(x.Items)
	case *AnonHash:
		addExprs(x.Items)
	case *RefExpr:
		add(x.X)
	case *EvalBlock:
		add(x.Body)
	case *EvalStr:
		add(x.Src)
	case *DoBlock:
		add(x.Body)
	case *MatchExpr:
		add(x.Target, x.Pattern)
		if intoClosures || !x.Subst {
			add(x.Replacement)
		}
	case *QrExpr:
		add(x.Pattern)
	case *ReturnExpr:
		add(x.Value)
	case *GotoSub:
		add(x.Target)
	}
	return out
}

// isNilNode catches typed nil pointers stored in interface fields.
func isNilNode(n Node) bool {
	switch x := n.(type) {
	case *Block:
		return x == nil
	case *VarRef:
		return x == nil
	case *IfStmt:
		return x == nil
	}
	return false
}

// walk visits n and its descendants in evaluation order. fn returns false
// to skip the children of a node.
func walk(n Node, intoClosures bool, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range children(n, intoClosures) {
		walk(c, intoClosures, fn)
	}
}

// containsEvalString reports whether n, or any closure inside it, has an
// eval of a string.
func containsEvalString(n Node) bool {
	found := false
	walk(n, true, func(n Node) bool {
		if _, ok := n.(*EvalStr); ok {
			found = true
		}
		return !found
	})
	return found
}

// hasLocal reports whether the statements of b localize a package
// variable. Unless deep is set, nested blocks are not searched, since
// they restore their own dynamic scope.
func hasLocal(b *Block, deep bool) bool {
	found := false
	for _, st := range b.Stmts {
		walk(st, false, func(n Node) bool {
			if found {
				return false
			}
			switch x := n.(type) {
			case *MyExpr:
				if x.Decl == "local" {
					found = true
				}
			case *Block:
				return deep || x.Inline
			}
			return true
		})
	}
	return found
}

// ---------------------------------------------------------------------------
// Free variables
// ---------------------------------------------------------------------------

// freeVars lists the sigiled variable names referenced in body that are
// not declared inside it, in order of first reference. Nested closures
// contribute their own free variables.
func freeVars(body *Block) []string {
	fv := &freeWalker{seen: make(map[string]bool)}
	fv.push()
	fv.node(body)
	return fv.names
}

type freeWalker struct {
	scopes []map[string]bool
	seen   map[string]bool
	names  []string
}

func (w *freeWalker) push() { w.scopes = append(w.scopes, make(map[string]bool)) }
func (w *freeWalker) pop()  { w.scopes = w.scopes[:len(w.scopes)-1] }

func (w *freeWalker) declared(name string) bool {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if w.scopes[i][name] {
			return true
		}
	}
	return false
}

func (w *freeWalker) declare(name string) {
	w.scopes[len(w.scopes)-1][name] = true
}

func (w *freeWalker) ref(v *VarRef) {
	if v.Sigil == '&' {
		return
	}
	name := v.FullName()
	if w.declared(name) || w.seen[name] {
		return
	}
	w.seen[name] = true
	w.names = append(w.names, name)
}

func (w *freeWalker) node(n Node) {
	switch x := n.(type) {
	case *VarRef:
		w.ref(x)
		return
	case *Block:
		if !x.Inline {
			w.push()
			defer w.pop()
		}
	case *IfStmt, *WhileStmt, *ForStmt:
		w.push()
		defer w.pop()
	case *ForeachStmt:
		w.node(x.List)
		w.push()
		defer w.pop()
		if x.Var != nil {
			if x.My == "" {
				w.ref(x.Var)
			} else {
				w.declare(x.Var.FullName())
			}
		}
		w.node(x.Body)
		return
	case *MyExpr:
		for _, v := range x.Vars {
			vr, ok := v.(*VarRef)
			switch {
			case !ok:
				w.node(v)
			case x.Decl == "local":
				w.ref(vr)
			default:
				w.declare(vr.FullName())
			}
		}
		return
	}
	for _, c := range children(n, true) {
		w.node(c)
	}
}
