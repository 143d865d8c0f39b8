package stripe

import (
	"sync"
	"testing"
)

func TestKeyedLocksSerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	const goroutines = 20
	counter := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("cus_same")
			defer unlock()
			// Critical section: without serialization this read-modify-write
			// would race.
			mu.Lock()
			counter++
			order = append(order, counter)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("counter = %d, want %d", counter, goroutines)
	}
	if len(order) != goroutines {
		t.Errorf("len(order) = %d, want %d", len(order), goroutines)
	}

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock table should be empty after release, has %d entries", remaining)
	}
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := newKeyedLocks()

	unlockA := locks.lock("cus_a")
	defer unlockA()

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("cus_b")
		unlockB()
		close(done)
	}()
	<-done
}
