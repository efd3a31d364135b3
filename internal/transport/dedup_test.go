package transport

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestIsDuplicateReportsSecondObservation(t *testing.T) {
	d := NewDedup(zerolog.Nop())
	defer d.Stop()

	if d.IsDuplicate("m1") {
		t.Fatal("expected first observation to not be a duplicate")
	}
	if !d.IsDuplicate("m1") {
		t.Fatal("expected second observation to be a duplicate")
	}
}

func TestIsDuplicateEmptyIDNeverDuplicate(t *testing.T) {
	d := NewDedup(zerolog.Nop())
	defer d.Stop()

	if d.IsDuplicate("") || d.IsDuplicate("") {
		t.Fatal("empty id must never be reported as duplicate")
	}
}

func TestIsDuplicateEvictsOldestBeyondCapacity(t *testing.T) {
	d := NewDedup(zerolog.Nop())
	defer d.Stop()

	for i := 0; i < dedupCapacity+50; i++ {
		d.IsDuplicate(fmt.Sprintf("m%d", i))
	}

	d.mu.Lock()
	size := len(d.entries)
	d.mu.Unlock()
	if size > dedupCapacity {
		t.Fatalf("expected cache to stay at or below capacity %d, got %d", dedupCapacity, size)
	}
}

func TestIsDuplicateSingleProducerExactlyOnce(t *testing.T) {
	d := NewDedup(zerolog.Nop())
	defer d.Stop()

	fires := 0
	deliver := func(id string) {
		if !d.IsDuplicate(id) {
			fires++
		}
	}

	// two "brokers" both deliver the same msgId once each.
	deliver("m1")
	deliver("m1")

	if fires != 1 {
		t.Fatalf("expected callback to fire exactly once, fired %d times", fires)
	}
}
