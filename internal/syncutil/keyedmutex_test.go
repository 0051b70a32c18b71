package syncutil

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km KeyedMutex
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("tenant-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestKeyedMutex_UnlockReleases(t *testing.T) {
	var km KeyedMutex
	unlock := km.Lock("k")
	unlock()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("k")
		unlock()
		close(done)
	}()
	<-done
}
