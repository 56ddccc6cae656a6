package bbuf_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oda/bindex/bbuf"
	"github.com/oda/bindex/bdisk"
)

func newPool(t *testing.T, capacity int) *bbuf.BufferPool {
	t.Helper()
	d, err := bdisk.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("disk open failed: %v", err)
	}
	bp := bbuf.New(d, capacity)
	t.Cleanup(func() { bp.Close() })
	return bp
}

func TestNewPageAndWriteBack(t *testing.T) {
	bp := newPool(t, 3)

	pid, bg, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	if pid == bbuf.InvalidPageID {
		t.Fatal("NewPage returned invalid page id")
	}

	wg := bg.UpgradeWrite()
	copy(wg.Data(), []byte("written through guard"))
	wg.Drop()
	bg.Drop() // consumed by upgrade; must be a no-op

	// Evict by filling the pool with other pages.
	for i := 0; i < 3; i++ {
		_, g, err := bp.NewPage()
		if err != nil {
			t.Fatalf("NewPage failed: %v", err)
		}
		g.Drop()
	}

	// Re-fetch and verify the write survived eviction.
	rg, err := bp.FetchRead(pid)
	if err != nil {
		t.Fatalf("FetchRead failed: %v", err)
	}
	defer rg.Drop()
	if string(rg.Data()[:21]) != "written through guard" {
		t.Errorf("page contents lost across eviction: %q", rg.Data()[:21])
	}
}

func TestPoolExhausted(t *testing.T) {
	bp := newPool(t, 2)

	_, g1, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer g1.Drop()
	_, g2, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	// Both frames pinned: the next fetch must fail.
	_, _, err = bp.NewPage()
	if !errors.Is(err, bbuf.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	// Releasing one pin makes room again.
	g2.Drop()
	_, g3, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage after unpin failed: %v", err)
	}
	g3.Drop()
}

func TestDropIdempotent(t *testing.T) {
	bp := newPool(t, 2)

	pid, bg, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	bg.Drop()
	bg.Drop() // second drop must not unpin twice

	// If the pin count went negative the next fetch would misbehave;
	// exercise the page a few times.
	for i := 0; i < 3; i++ {
		rg, err := bp.FetchRead(pid)
		if err != nil {
			t.Fatalf("FetchRead failed: %v", err)
		}
		rg.Drop()
		rg.Drop()
	}
}

func TestDeletePageDeferred(t *testing.T) {
	bp := newPool(t, 4)

	pid, bg, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	wg := bg.UpgradeWrite()

	// Delete while pinned: must be deferred, not fail.
	if err := bp.DeletePage(pid); err != nil {
		t.Fatalf("DeletePage while pinned failed: %v", err)
	}
	// Second call while pending is a no-op.
	if err := bp.DeletePage(pid); err != nil {
		t.Fatalf("repeated DeletePage failed: %v", err)
	}

	wg.Drop()

	// The page id should now be back on the disk free list: a fresh
	// allocation reuses it.
	got, g, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer g.Drop()
	if got != pid {
		t.Errorf("expected freed page %d to be reused, got %d", pid, got)
	}
}

func TestDeleteUnpinnedPage(t *testing.T) {
	bp := newPool(t, 4)

	pid, bg, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	bg.Drop()

	if err := bp.DeletePage(pid); err != nil {
		t.Fatalf("DeletePage failed: %v", err)
	}

	got, g, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer g.Drop()
	if got != pid {
		t.Errorf("expected freed page %d to be reused, got %d", pid, got)
	}
}

func TestReadersShareWritersExclude(t *testing.T) {
	bp := newPool(t, 4)

	pid, bg, err := bp.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	w := bg.UpgradeWrite()
	copy(w.Data(), []byte{1})
	w.Drop()

	// Two concurrent readers must both get the latch.
	r1, err := bp.FetchRead(pid)
	if err != nil {
		t.Fatalf("FetchRead failed: %v", err)
	}
	r2, err := bp.FetchRead(pid)
	if err != nil {
		t.Fatalf("FetchRead failed: %v", err)
	}

	// A writer must wait until both readers drop.
	acquired := make(chan struct{})
	go func() {
		wg, err := bp.FetchWrite(pid)
		if err == nil {
			wg.Drop()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired latch while readers held it")
	default:
	}

	r1.Drop()
	r2.Drop()
	<-acquired
}

func TestConcurrentPinUnpin(t *testing.T) {
	bp := newPool(t, 8)

	// A handful of pages hammered by many goroutines.
	pids := make([]bbuf.PageID, 4)
	for i := range pids {
		pid, g, err := bp.NewPage()
		if err != nil {
			t.Fatalf("NewPage failed: %v", err)
		}
		g.Drop()
		pids[i] = pid
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pid := pids[(seed+i)%len(pids)]
				if i%3 == 0 {
					w, err := bp.FetchWrite(pid)
					if err != nil {
						continue
					}
					w.Data()[0] = byte(i)
					w.Drop()
				} else {
					r, err := bp.FetchRead(pid)
					if err != nil {
						continue
					}
					_ = r.Data()[0]
					r.Drop()
				}
			}
		}(g)
	}
	wg.Wait()
}
