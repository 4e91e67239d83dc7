package engine

import (
	"sync"
	"testing"
)

func TestLockKey_EntryDroppedOnRelease(t *testing.T) {
	r := newSessionRegistry()

	unlock := r.lockKey("abc")
	if len(r.keyLocks) != 1 {
		t.Fatalf("expected 1 tracked key while held, got %d", len(r.keyLocks))
	}

	unlock()

	if len(r.keyLocks) != 0 {
		t.Fatalf("expected no tracked keys after release, got %d", len(r.keyLocks))
	}
}

func TestLockKey_ContendedEntrySurvivesUntilLastHolder(t *testing.T) {
	r := newSessionRegistry()

	const holders = 8

	var wg sync.WaitGroup

	for i := 0; i < holders; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := r.lockKey("abc")
			unlock()
		}()
	}

	wg.Wait()

	if len(r.keyLocks) != 0 {
		t.Fatalf("expected no tracked keys after all holders released, got %d", len(r.keyLocks))
	}
}

func TestLockKey_DistinctKeysDoNotContend(t *testing.T) {
	r := newSessionRegistry()

	unlockA := r.lockKey("a")
	defer unlockA()

	// Acquiring a different key while "a" is held must not block.
	done := make(chan struct{})

	go func() {
		unlockB := r.lockKey("b")
		unlockB()
		close(done)
	}()

	<-done
}
