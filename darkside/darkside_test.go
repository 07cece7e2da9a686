package darkside

import (
	"testing"

	"github.com/hf14a/engine/crypto1"
)

func TestClassifyNoSamples(t *testing.T) {
	s := NewSession()
	status, err := s.Classify()
	if status != StatusNoValidNACKReceived || err == nil {
		t.Fatalf("status=%v err=%v, want StatusNoValidNACKReceived+error", status, err)
	}
}

func TestObserveEstablishesSyncCycles(t *testing.T) {
	s := NewSession()
	s.Observe(Sample{Nonce: 0xBEEF})
	next := crypto1.PRNGSuccessor(0xBEEF, 17)
	s.Observe(Sample{Nonce: next})
	if s.SyncCycles != 17 {
		t.Fatalf("SyncCycles = %d, want 17", s.SyncCycles)
	}
	status, err := s.Classify()
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %v, want StatusOK", status)
	}
}

func TestNtDiffCandidatesMatchSuccessor(t *testing.T) {
	s := NewSession()
	s.Observe(Sample{Nonce: 0x1234})
	cands := s.NtDiffCandidates()
	for i, c := range cands {
		want := crypto1.PRNGSuccessor(0x1234, i)
		if c != want {
			t.Fatalf("cand[%d] = %x, want %x", i, c, want)
		}
	}
}

func TestMoebiusPair(t *testing.T) {
	s := NewSession()
	s.Observe(Sample{Nonce: 0xACE1})
	first, second := s.MoebiusPair(20)
	if first != 0xACE1 {
		t.Fatalf("first = %x, want ACE1", first)
	}
	if second != crypto1.PRNGSuccessor(0xACE1, 20) {
		t.Fatalf("second = %x, unexpected", second)
	}
}

func TestObserveOutsideKnownCycleBumpsElapsed(t *testing.T) {
	s := NewSession()
	s.Observe(Sample{Nonce: 0x1111})
	s.Observe(Sample{Nonce: 0}) // 0 never appears in the PRNG cycle.
	if s.ElapsedSequences() != 1 {
		t.Fatalf("ElapsedSequences = %d, want 1", s.ElapsedSequences())
	}
}
