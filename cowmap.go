package graphmatch

import (
	iradix "github.com/hashicorp/go-immutable-radix"
)

// pmap is a persistent string-keyed map backed by an immutable radix tree.
// Every write returns a new map that shares structure with the old one, so
// copying a pmap value is O(1) and both copies stay independent.
// Iteration is in byte-wise key order.
type pmap[V any] struct {
	t *iradix.Tree
}

var emptyTree = iradix.New()

func (m pmap[V]) tree() *iradix.Tree {
	if m.t == nil {
		return emptyTree
	}
	return m.t
}

func (m pmap[V]) get(k string) (V, bool) {
	raw, ok := m.tree().Get([]byte(k))
	if !ok {
		var zero V
		return zero, false
	}
	return raw.(V), true
}

func (m pmap[V]) has(k string) bool {
	_, ok := m.tree().Get([]byte(k))
	return ok
}

func (m pmap[V]) set(k string, v V) pmap[V] {
	t, _, _ := m.tree().Insert([]byte(k), v)
	return pmap[V]{t: t}
}

func (m pmap[V]) del(k string) pmap[V] {
	t, _, ok := m.tree().Delete([]byte(k))
	if !ok {
		return m
	}
	return pmap[V]{t: t}
}

func (m pmap[V]) len() int {
	return m.tree().Len()
}

// walk visits entries in key order until fn returns false.
func (m pmap[V]) walk(fn func(k string, v V) bool) {
	m.tree().Root().Walk(func(k []byte, raw interface{}) bool {
		return !fn(string(k), raw.(V))
	})
}

func (m pmap[V]) keys() []string {
	out := make([]string, 0, m.len())
	m.walk(func(k string, _ V) bool {
		out = append(out, k)
		return true
	})
	return out
}

// setMany applies a batch of inserts in one radix transaction.
func (m pmap[V]) setMany(kv map[string]V) pmap[V] {
	if len(kv) == 0 {
		return m
	}
	txn := m.tree().Txn()
	for k, v := range kv {
		txn.Insert([]byte(k), v)
	}
	return pmap[V]{t: txn.Commit()}
}

// pset is a persistent set of strings.
type pset = pmap[struct{}]

func (m pmap[V]) add(k string) pmap[V] {
	var zero V
	return m.set(k, zero)
}

// subsetOf reports whether every key of m is a key of other.
func (m pmap[V]) subsetOf(other pmap[V]) bool {
	if m.len() > other.len() {
		return false
	}
	ok := true
	m.walk(func(k string, _ V) bool {
		if !other.has(k) {
			ok = false
		}
		return ok
	})
	return ok
}
