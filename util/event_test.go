package util

import (
	"sync"
	"testing"
	"time"
)

func TestEventReleasesWaiters(t *testing.T) {
	e := NewEvent()
	if e.HasBeenNotified() {
		t.Error("New event reports notified")
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Wait()
		}()
	}

	e.Notify()
	wg.Wait()
	if !e.HasBeenNotified() {
		t.Error("Event not notified after Notify")
	}

	// Waiters arriving after the fact pass straight through.
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Late waiter blocked on a notified event")
	}
}

func TestEventNotifyIdempotent(t *testing.T) {
	e := NewEvent()
	e.Notify()
	e.Notify()
	select {
	case <-e.Done():
	default:
		t.Error("Done channel open after Notify")
	}
}
