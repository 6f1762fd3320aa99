package vm

// Array is an ordered container of scalars. Missing slots are nil until
// touched.
type Array struct {
	elems []*Scalar
}

// NewArray returns an array owning items.
func NewArray(items ...*Scalar) *Array {
	return &Array{elems: items}
}

func (a *Array) Kind() Kind { return KindArray }
func (a *Array) Len() int   { return len(a.elems) }

func (a *Array) index(i int) int {
	if i < 0 {
		i += len(a.elems)
	}
	return i
}

// Get returns element i without creating it, or nil.
func (a *Array) Get(i int) *Scalar {
	i = a.index(i)
	if i < 0 || i >= len(a.elems) {
		return nil
	}
	return a.elems[i]
}

// Elem returns element i, extending the array as needed. It returns nil
// for a negative index before the start of the array.
func (a *Array) Elem(i int) *Scalar {
	i = a.index(i)
	if i < 0 {
		return nil
	}
	for len(a.elems) <= i {
		a.elems = append(a.elems, nil)
	}
	if a.elems[i] == nil {
		a.elems[i] = NewUndef()
	}
	return a.elems[i]
}

// Elements returns the element scalars themselves, materializing holes.
func (a *Array) Elements() []*Scalar {
	for i, e := range a.elems {
		if e == nil {
			a.elems[i] = NewUndef()
		}
	}
	return a.elems
}

// Assign replaces the contents with copies of items.
func (a *Array) Assign(items []*Scalar) {
	a.elems = CopyAll(items)
}

// Push appends copies of items.
func (a *Array) Push(items ...*Scalar) {
	for _, s := range items {
		a.elems = append(a.elems, s.Copy())
	}
}

// Unshift prepends copies of items.
func (a *Array) Unshift(items ...*Scalar) {
	a.elems = append(CopyAll(items), a.elems...)
}

// Pop removes and returns the last element, or undef.
func (a *Array) Pop() *Scalar {
	if len(a.elems) == 0 {
		return NewUndef()
	}
	s := a.elems[len(a.elems)-1]
	a.elems = a.elems[:len(a.elems)-1]
	if s == nil {
		return NewUndef()
	}
	return s
}

// Shift removes and returns the first element, or undef.
func (a *Array) Shift() *Scalar {
	if len(a.elems) == 0 {
		return NewUndef()
	}
	s := a.elems[0]
	a.elems = a.elems[1:]
	if s == nil {
		return NewUndef()
	}
	return s
}

// Delete clears element i and returns its old value. Deleting the last
// element shrinks the array.
func (a *Array) Delete(i int) *Scalar {
	i = a.index(i)
	if i < 0 || i >= len(a.elems) {
		return NewUndef()
	}
	old := a.elems[i]
	a.elems[i] = nil
	for len(a.elems) > 0 && a.elems[len(a.elems)-1] == nil {
		a.elems = a.elems[:len(a.elems)-1]
	}
	if old == nil {
		return NewUndef()
	}
	return old
}

// Exists reports whether slot i has been touched.
func (a *Array) Exists(i int) bool {
	i = a.index(i)
	return i >= 0 && i < len(a.elems) && a.elems[i] != nil
}

// Clear empties the array.
func (a *Array) Clear() { a.elems = nil }

// Hash maps string keys to scalars. Keys iterate in insertion order so
// output is reproducible.
type Hash struct {
	keys []string
	vals map[string]*Scalar
}

func NewHash() *Hash {
	return &Hash{vals: make(map[string]*Scalar)}
}

func (h *Hash) Kind() Kind { return KindHash }
func (h *Hash) Len() int   { return len(h.keys) }

// Get returns the value for key without creating it, or nil.
func (h *Hash) Get(key string) *Scalar {
	return h.vals[key]
}

// Elem returns the value for key, creating an undef entry if missing.
func (h *Hash) Elem(key string) *Scalar {
	if s, ok := h.vals[key]; ok {
		return s
	}
	s := NewUndef()
	h.keys = append(h.keys, key)
	h.vals[key] = s
	return s
}

func (h *Hash) Exists(key string) bool {
	_, ok := h.vals[key]
	return ok
}

// Delete removes key and returns its value, or undef.
func (h *Hash) Delete(key string) *Scalar {
	s, ok := h.vals[key]
	if !ok {
		return NewUndef()
	}
	delete(h.vals, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
	return s
}

// Keys returns the keys in insertion order.
func (h *Hash) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Assign replaces the contents with key/value pairs taken from items.
// A trailing key without a value maps to undef.
func (h *Hash) Assign(items []*Scalar) {
	h.keys = nil
	h.vals = make(map[string]*Scalar, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		v := NewUndef()
		if i+1 < len(items) {
			v = items[i+1].Copy()
		}
		h.Elem(items[i].String()).Set(v)
	}
}

// Clear empties the hash.
func (h *Hash) Clear() {
	h.keys = nil
	h.vals = make(map[string]*Scalar)
}

// List is a transient multi-valued result.
type List struct {
	Items []*Scalar
}

func NewList(items ...*Scalar) *List { return &List{Items: items} }
func (l *List) Kind() Kind           { return KindList }

// Iterator walks a snapshot of foreach items. Items are the original
// scalars, so binding the loop variable to one aliases it.
type Iterator struct {
	items []*Scalar
	pos   int
}

func (it *Iterator) Kind() Kind { return KindIterator }

// Next returns the next item, or false at the end.
func (it *Iterator) Next() (*Scalar, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	s := it.items[it.pos]
	it.pos++
	return s, true
}

// Mark holds a dynamic-scope save-stack depth.
type Mark struct {
	Depth int
}

func (m *Mark) Kind() Kind { return KindMark }
