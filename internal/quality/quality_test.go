package quality

import (
	"testing"

	"github.com/friendsincode/p2pconf/internal/model"
)

// S6 — literal stats fixtures from the spec's end-to-end scenarios.
func TestComputeS6PoorQualityFixture(t *testing.T) {
	snap := Snapshot{
		CandidatePairs: map[string]CandidatePairStats{
			"p1": {ID: "p1", Nominated: true, CurrentRoundTripTime: 0.4},
		},
		AudioInbound: &InboundRTPStats{
			PacketsReceived: 1000,
			PacketsLost:     5,
			JitterSeconds:   0.005,
		},
	}
	stats, _ := Compute("peer-1", snap, "connected", model.PreviousStats{})

	if stats.RTTMs != 400 {
		t.Fatalf("expected rtt 400, got %v", stats.RTTMs)
	}
	if stats.JitterMs != 5 {
		t.Fatalf("expected jitter 5, got %v", stats.JitterMs)
	}
	if stats.Quality != model.QualityPoor {
		t.Fatalf("expected poor quality, got %v", stats.Quality)
	}
}

func TestComputeS6ExcellentQualityFixture(t *testing.T) {
	snap := Snapshot{
		CandidatePairs: map[string]CandidatePairStats{
			"p1": {ID: "p1", Nominated: true, CurrentRoundTripTime: 0.05},
		},
		AudioInbound: &InboundRTPStats{
			PacketsReceived: 1000,
			PacketsLost:     5,
			JitterSeconds:   0.005,
		},
	}
	stats, _ := Compute("peer-1", snap, "connected", model.PreviousStats{})

	if stats.Quality != model.QualityExcellent {
		t.Fatalf("expected excellent quality, got %v", stats.Quality)
	}
}

func TestComputeReturnsFairZerosWhenNotConnected(t *testing.T) {
	prev := model.PreviousStats{PacketsReceived: 10, PacketsLost: 1, Valid: true}
	stats, nextPrev := Compute("peer-1", Snapshot{}, "disconnected", prev)

	if stats.Quality != model.QualityFair {
		t.Fatalf("expected fair quality when not connected, got %v", stats.Quality)
	}
	if stats.RTTMs != 0 || stats.PacketLossPct != 0 || stats.JitterMs != 0 {
		t.Fatalf("expected zeroed metrics, got %+v", stats)
	}
	if nextPrev != prev {
		t.Fatalf("expected previous stats preserved, got %+v", nextPrev)
	}
}

// §8 invariant 5: quality grades respect componentwise dominance.
func TestQualityGradeOrderingInvariant(t *testing.T) {
	better := gradeQuality(50, 0.5, 5)
	worse := gradeQuality(150, 1.5, 20)
	rank := map[model.QualityGrade]int{
		model.QualityExcellent: 3,
		model.QualityGood:      2,
		model.QualityFair:      1,
		model.QualityPoor:      0,
	}
	if rank[worse] > rank[better] {
		t.Fatalf("dominated metrics produced a better grade: better=%v worse=%v", better, worse)
	}
}

// §8 invariant 7: packet-loss delta formula never exceeds 100 and is zero
// when there is no new traffic.
func TestComputePacketLossZeroWhenNoDelta(t *testing.T) {
	prev := model.PreviousStats{PacketsReceived: 100, PacketsLost: 0, Timestamp: 1, Valid: true}
	loss := computePacketLoss(100, 0, 2, prev)
	if loss != 0 {
		t.Fatalf("expected 0 loss with no new packets, got %v", loss)
	}
}

func TestComputePacketLossNeverExceeds100(t *testing.T) {
	loss := computePacketLoss(0, 50, 0, model.PreviousStats{})
	if loss > 100 {
		t.Fatalf("expected loss capped at 100, got %v", loss)
	}
}

func TestSelectCandidatePairPrefersTransportSelection(t *testing.T) {
	snap := Snapshot{
		SelectedCandidatePairID: "chosen",
		CandidatePairs: map[string]CandidatePairStats{
			"chosen": {ID: "chosen", CurrentRoundTripTime: 0.01},
			"other":  {ID: "other", Nominated: true, CurrentRoundTripTime: 0.9},
		},
	}
	pair := selectCandidatePair(snap)
	if pair == nil || pair.ID != "chosen" {
		t.Fatalf("expected the transport-selected pair, got %+v", pair)
	}
}

func TestSelectCandidatePairFallsBackToNominated(t *testing.T) {
	snap := Snapshot{
		CandidatePairs: map[string]CandidatePairStats{
			"other": {ID: "other", Nominated: true, CurrentRoundTripTime: 0.2},
		},
	}
	pair := selectCandidatePair(snap)
	if pair == nil || pair.ID != "other" {
		t.Fatalf("expected the nominated fallback pair, got %+v", pair)
	}
}
