package bindex_test

import (
	"testing"

	bindex "github.com/oda/bindex"
)

func validateTree(t *testing.T, tree *bindex.Tree) {
	t.Helper()
	if err := tree.Check(); err != nil {
		t.Fatalf("tree invariants violated: %v", err)
	}
}

func TestRangeScan(t *testing.T) {
	tree, _ := newTree(t, 4, 4)
	// Insert in reverse to exercise front-of-leaf insertion paths.
	for k := uint64(10); k >= 1; k-- {
		mustInsert(t, tree, k)
	}

	it, err := tree.BeginAt(4)
	if err != nil {
		t.Fatalf("BeginAt failed: %v", err)
	}
	var got []uint64
	for !it.IsEnd() {
		k, v, ok, err := it.Entry()
		if err != nil {
			t.Fatalf("Entry failed: %v", err)
		}
		if !ok {
			t.Fatal("Entry missing mid-scan")
		}
		if v != bindex.NewRID(k, 0) {
			t.Errorf("key %d carries wrong record id %v", k, v)
		}
		got = append(got, k)
		if err := it.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	wantKeys(t, got, 4, 5, 6, 7, 8, 9, 10)

	// Past the largest key the seek lands on End.
	it, err = tree.BeginAt(11)
	if err != nil {
		t.Fatalf("BeginAt failed: %v", err)
	}
	if !it.IsEnd() {
		t.Error("BeginAt(11) should be End")
	}
}

func TestBeginAtAbsentKey(t *testing.T) {
	tree, _ := newTree(t, 4, 4)
	mustInsert(t, tree, 1, 3, 5, 7, 9)

	// The seek requires an exact match; 4 is absent.
	it, err := tree.BeginAt(4)
	if err != nil {
		t.Fatalf("BeginAt failed: %v", err)
	}
	if !it.IsEnd() {
		t.Error("BeginAt on absent key should be End")
	}

	// A key smaller than every stored key also lands on End.
	it, err = tree.BeginAt(0)
	if err != nil {
		t.Fatalf("BeginAt failed: %v", err)
	}
	if !it.IsEnd() {
		t.Error("BeginAt(0) should be End")
	}
}

func TestBeginAtEveryPresentKey(t *testing.T) {
	tree, _ := newTree(t, 4, 4)
	const n = 60
	for k := uint64(2); k <= 2*n; k += 2 {
		mustInsert(t, tree, k)
	}

	for k := uint64(2); k <= 2*n; k += 2 {
		it, err := tree.BeginAt(k)
		if err != nil {
			t.Fatalf("BeginAt(%d) failed: %v", k, err)
		}
		got, _, ok, err := it.Entry()
		if err != nil {
			t.Fatalf("Entry failed: %v", err)
		}
		if !ok || got != k {
			t.Fatalf("BeginAt(%d) positioned on %d", k, got)
		}
		// Odd probes between stored keys must all miss.
		it, err = tree.BeginAt(k + 1)
		if err != nil {
			t.Fatalf("BeginAt(%d) failed: %v", k+1, err)
		}
		if !it.IsEnd() {
			t.Errorf("BeginAt(%d) should be End", k+1)
		}
	}
}

func TestIteratorCrossesLeaves(t *testing.T) {
	tree, _ := newTree(t, 4, 4)
	const n = 100
	for k := uint64(1); k <= n; k++ {
		mustInsert(t, tree, k)
	}

	// Begin then full walk: every key exactly once, in order, across many
	// leaf boundaries.
	keys := allKeys(t, tree)
	if len(keys) != n {
		t.Fatalf("expected %d keys, got %d", n, len(keys))
	}
	for i, k := range keys {
		if k != uint64(i)+1 {
			t.Fatalf("wrong key at %d: %d", i, k)
		}
	}
}

func TestEndIterator(t *testing.T) {
	tree, _ := newTree(t, 4, 4)

	end := tree.End()
	if !end.IsEnd() {
		t.Fatal("End should be the end iterator")
	}
	// Advancing or reading End is harmless.
	if err := end.Next(); err != nil {
		t.Fatalf("Next on End failed: %v", err)
	}
	_, _, ok, err := end.Entry()
	if err != nil {
		t.Fatalf("Entry on End failed: %v", err)
	}
	if ok {
		t.Error("Entry on End should report no entry")
	}
}

func TestIteratorOnSingleLeaf(t *testing.T) {
	tree, _ := newTree(t, 4, 4)
	mustInsert(t, tree, 2, 1)

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	k, _, ok, err := it.Entry()
	if err != nil || !ok || k != 1 {
		t.Fatalf("expected first key 1, got %d (ok=%v err=%v)", k, ok, err)
	}
	if err := it.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	k, _, ok, _ = it.Entry()
	if !ok || k != 2 {
		t.Fatalf("expected second key 2, got %d", k)
	}
	if err := it.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !it.IsEnd() {
		t.Error("iterator should reach End after last key")
	}
}
