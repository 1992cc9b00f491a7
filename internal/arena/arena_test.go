package arena

import "testing"

func TestInsertGet(t *testing.T) {
	var a Arena[string]

	h := a.Insert("foo")
	v, ok := a.Get(h)
	if !ok || v != "foo" {
		t.Fatalf("Get(%v) = (%q, %v); want (\"foo\", true)", h, v, ok)
	}

	if got := a.Len(); got != 1 {
		t.Errorf("Len() = %d; want 1", got)
	}
}

func TestZeroHandleIsInvalid(t *testing.T) {
	var a Arena[int]

	var zero Handle[int]
	if zero.Valid() {
		t.Fatalf("zero Handle reports Valid()")
	}
	if _, ok := a.Get(zero); ok {
		t.Fatalf("Get(zero Handle) returned ok=true")
	}
}

func TestRemoveThenGetFails(t *testing.T) {
	var a Arena[int]

	h := a.Insert(42)
	v, ok := a.Remove(h)
	if !ok || v != 42 {
		t.Fatalf("Remove(%v) = (%d, %v); want (42, true)", h, v, ok)
	}

	if _, ok := a.Get(h); ok {
		t.Errorf("Get after Remove returned ok=true")
	}
	if got := a.Len(); got != 0 {
		t.Errorf("Len() after Remove = %d; want 0", got)
	}
}

func TestRemoveTwiceFails(t *testing.T) {
	var a Arena[int]

	h := a.Insert(1)
	if _, ok := a.Remove(h); !ok {
		t.Fatalf("first Remove failed")
	}
	if _, ok := a.Remove(h); ok {
		t.Errorf("second Remove of the same handle returned ok=true")
	}
}

func TestRecycledSlotGetsNewGeneration(t *testing.T) {
	var a Arena[string]

	h1 := a.Insert("first")
	a.Remove(h1)
	h2 := a.Insert("second")

	if h1 == h2 {
		t.Fatalf("recycled handle %v collided with stale handle %v", h2, h1)
	}

	if _, ok := a.Get(h1); ok {
		t.Errorf("stale handle %v still resolves after slot reuse", h1)
	}

	v, ok := a.Get(h2)
	if !ok || v != "second" {
		t.Errorf("Get(%v) = (%q, %v); want (\"second\", true)", h2, v, ok)
	}
}

func TestMustGetPanicsOnStaleHandle(t *testing.T) {
	var a Arena[int]

	h := a.Insert(7)
	a.Remove(h)

	defer func() {
		if recover() == nil {
			t.Errorf("MustGet did not panic on a stale handle")
		}
	}()
	a.MustGet(h)
}

func TestGetPointerMutatesInPlace(t *testing.T) {
	var a Arena[int]

	h := a.Insert(10)
	p := a.GetPointer(h)
	if p == nil {
		t.Fatalf("GetPointer returned nil for a live handle")
	}
	*p = 20

	v := a.MustGet(h)
	if v != 20 {
		t.Errorf("MustGet after GetPointer mutation = %d; want 20", v)
	}
}

func TestEachVisitsAllLiveValues(t *testing.T) {
	var a Arena[int]

	h1 := a.Insert(1)
	h2 := a.Insert(2)
	h3 := a.Insert(3)
	a.Remove(h2)

	seen := map[Handle[int]]int{}
	a.Each(func(h Handle[int], v int) {
		seen[h] = v
	})

	if len(seen) != 2 {
		t.Fatalf("Each visited %d slots; want 2", len(seen))
	}
	if seen[h1] != 1 {
		t.Errorf("Each missed h1: got %v", seen)
	}
	if seen[h3] != 3 {
		t.Errorf("Each missed h3: got %v", seen)
	}
	if _, ok := seen[h2]; ok {
		t.Errorf("Each visited removed handle h2")
	}
}

func TestHandlesFromDifferentArenasCanBeEqual(t *testing.T) {
	var a, b Arena[int]

	ha := a.Insert(100)
	hb := b.Insert(200)

	// Same index and generation are expected (both arenas start fresh), so
	// a Handle from one must never be fed to the other; this test documents
	// that nothing at runtime tells them apart when both arenas hold the
	// same T.
	if ha != hb {
		t.Fatalf("expected identical handles from two fresh arenas, got %v and %v", ha, hb)
	}
}
