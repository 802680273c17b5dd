package ring

import (
	"reflect"
	"sync"
	"testing"
)

func TestRingBelowCapacity(t *testing.T) {
	r := New[int](5)
	for m := 0; m < 5; m++ {
		if r.Len() != m {
			t.Fatalf("expected len %d, got %d", m, r.Len())
		}
		if r.IsFull() {
			t.Fatalf("ring reported full at len %d", m)
		}
		r.Push(m)
	}
	if !r.IsFull() {
		t.Fatalf("expected full ring after %d pushes", r.Cap())
	}
}

func TestRingKeepsLastN(t *testing.T) {
	for _, total := range []int{3, 4, 7, 12, 100} {
		r := New[int](4)
		for i := 0; i < total; i++ {
			r.Push(i)
		}
		got := r.Snapshot()
		want := make([]int, 0, 4)
		start := total - 4
		if start < 0 {
			start = 0
		}
		for i := start; i < total; i++ {
			want = append(want, i)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("after %d pushes expected %v, got %v", total, want, got)
		}
		if total >= 4 && r.Len() != 4 {
			t.Fatalf("after %d pushes expected len 4, got %d", total, r.Len())
		}
	}
}

func TestRingSixtyFiveIntoSixty(t *testing.T) {
	r := New[int64](60)
	for ts := int64(1); ts <= 65; ts++ {
		r.Push(ts)
	}
	seq := r.Snapshot()
	if len(seq) != 60 {
		t.Fatalf("expected 60 entries, got %d", len(seq))
	}
	if seq[0] != 6 || seq[59] != 65 {
		t.Fatalf("expected window 6..65, got %d..%d", seq[0], seq[59])
	}
}

func TestRingSnapshotIsIndependent(t *testing.T) {
	r := New[string](2)
	r.Push("a")
	r.Push("b")

	first := r.Snapshot()
	second := r.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ without intervening push: %v vs %v", first, second)
	}

	r.Push("c")
	if first[0] != "a" || first[1] != "b" {
		t.Fatalf("snapshot mutated by later push: %v", first)
	}
	first[0] = "z"
	if got := r.Snapshot(); got[0] != "b" {
		t.Fatalf("writing to a snapshot leaked into the ring: %v", got)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	if got := New[int](0).Cap(); got != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestRingConcurrentReaders(t *testing.T) {
	r := New[int](16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Push(i)
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := r.Snapshot()
				for k := 1; k < len(snap); k++ {
					if snap[k] != snap[k-1]+1 {
						t.Errorf("torn snapshot: %v", snap)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
