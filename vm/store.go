package vm

// ScopeStore is the package variable table and its dynamic-scope save
// stack. It is shared by every frame of a Runtime; callers provide their
// own serialization if they share it across goroutines.
type ScopeStore interface {
	// Scalar, Array, Hash and Code return the binding for a qualified
	// name, creating an empty one on first use.
	Scalar(name string) *Scalar
	Array(name string) *Array
	Hash(name string) *Hash
	Code(name string) *Code

	// LookupCode returns the sub slot for name without creating it.
	LookupCode(name string) (*Code, bool)

	// DefineCode installs c as the body of the named sub.
	DefineCode(name string, c *Code)

	// Localize* save the current binding and install a fresh empty one,
	// which is returned. AliasScalar saves the current binding and installs
	// s itself.
	LocalizeScalar(name string) *Scalar
	LocalizeArray(name string) *Array
	LocalizeHash(name string) *Hash
	AliasScalar(name string, s *Scalar)

	// Mark returns a restore token; Restore reinstates every binding saved
	// since the token was taken, most recent first.
	Mark() int
	Restore(mark int)
}

type saveEntry struct {
	kind Kind
	name string
	old  Value
}

// GlobalStore is the default ScopeStore.
type GlobalStore struct {
	scalars map[string]*Scalar
	arrays  map[string]*Array
	hashes  map[string]*Hash
	codes   map[string]*Code
	saves   []saveEntry
}

// NewGlobalStore returns an empty store.
func NewGlobalStore() *GlobalStore {
	return &GlobalStore{
		scalars: make(map[string]*Scalar),
		arrays:  make(map[string]*Array),
		hashes:  make(map[string]*Hash),
		codes:   make(map[string]*Code),
	}
}

func (g *GlobalStore) Scalar(name string) *Scalar {
	s, ok := g.scalars[name]
	if !ok {
		s = NewUndef()
		g.scalars[name] = s
	}
	return s
}

func (g *GlobalStore) Array(name string) *Array {
	a, ok := g.arrays[name]
	if !ok {
		a = NewArray()
		g.arrays[name] = a
	}
	return a
}

func (g *GlobalStore) Hash(name string) *Hash {
	h, ok := g.hashes[name]
	if !ok {
		h = NewHash()
		g.hashes[name] = h
	}
	return h
}

func (g *GlobalStore) Code(name string) *Code {
	c, ok := g.codes[name]
	if !ok {
		c = &Code{Name: name}
		g.codes[name] = c
	}
	return c
}

func (g *GlobalStore) LookupCode(name string) (*Code, bool) {
	c, ok := g.codes[name]
	return c, ok
}

// DefineCode fills an existing undefined slot in place, so references
// taken before the definition see the body; a defined slot is replaced.
func (g *GlobalStore) DefineCode(name string, c *Code) {
	if old, ok := g.codes[name]; ok && !old.Defined() {
		old.Unit, old.Captures, old.Native, old.state = c.Unit, c.Captures, c.Native, nil
		return
	}
	if c.Name == "" {
		c.Name = name
	}
	g.codes[name] = c
}

func (g *GlobalStore) LocalizeScalar(name string) *Scalar {
	g.saves = append(g.saves, saveEntry{KindScalar, name, g.Scalar(name)})
	s := NewUndef()
	g.scalars[name] = s
	return s
}

func (g *GlobalStore) LocalizeArray(name string) *Array {
	g.saves = append(g.saves, saveEntry{KindArray, name, g.Array(name)})
	a := NewArray()
	g.arrays[name] = a
	return a
}

func (g *GlobalStore) LocalizeHash(name string) *Hash {
	g.saves = append(g.saves, saveEntry{KindHash, name, g.Hash(name)})
	h := NewHash()
	g.hashes[name] = h
	return h
}

func (g *GlobalStore) AliasScalar(name string, s *Scalar) {
	g.saves = append(g.saves, saveEntry{KindScalar, name, g.Scalar(name)})
	g.scalars[name] = s
}

func (g *GlobalStore) Mark() int {
	return len(g.saves)
}

func (g *GlobalStore) Restore(mark int) {
	if mark < 0 {
		mark = 0
	}
	for len(g.saves) > mark {
		e := g.saves[len(g.saves)-1]
		g.saves = g.saves[:len(g.saves)-1]
		switch e.kind {
		case KindScalar:
			g.scalars[e.name] = e.old.(*Scalar)
		case KindArray:
			g.arrays[e.name] = e.old.(*Array)
		case KindHash:
			g.hashes[e.name] = e.old.(*Hash)
		}
	}
}
