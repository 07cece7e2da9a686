// Package sniffer implements the dual-decoder arbitration engine that
// recovers both directions of an ISO/IEC 14443-A exchange from a single
// interleaved sample stream (§4.6).
package sniffer

import (
	"errors"

	"github.com/hf14a/engine"
	"github.com/hf14a/engine/codec/manchester"
	"github.com/hf14a/engine/codec/miller"
)

// side tracks which direction currently owns the shared sample stream:
// at most one of the two decoders is ever mid-frame at a time (§4.6
// "mutually exclusive active-side flag").
type side int

const (
	sideNone side = iota
	sideReader
	sideTag
)

// TriggerMode selects what the sniffer should arm its capture trigger
// on (§4.6).
type TriggerMode int

const (
	TriggerNone TriggerMode = iota
	TriggerReaderFrame
	TriggerTagFrame
	TriggerEitherFrame
)

// Event is one fully decoded frame observed on the air, tagged with its
// direction.
type Event struct {
	Frame      *hf14a.Frame
	FromReader bool
}

// ErrOverrun is returned by Drain when the backing ring buffer reports
// it filled past the fatal threshold before being drained (§4.6).
var ErrOverrun = errors.New("sniffer: ring buffer overrun")

// Sniffer arbitrates a Miller decoder (reader-to-tag) and a Manchester
// decoder (tag-to-reader) over one nibble stream, emitting an Event
// whenever either completes a frame.
type Sniffer struct {
	millerDec *miller.Decoder
	manchDec  *manchester.Decoder
	active    side

	trigger TriggerMode
	Armed   bool
	Fired   bool

	ReaderIsActive bool
	TagIsActive    bool

	Events []Event
}

// New returns a Sniffer ready to arbitrate a fresh sample stream.
func New() *Sniffer {
	return &Sniffer{
		millerDec: miller.NewDecoder(),
		manchDec:  manchester.NewDecoder(),
	}
}

// ArmTrigger arms the sniffer to record Fired the first time a frame
// matching mode completes.
func (s *Sniffer) ArmTrigger(mode TriggerMode) {
	s.trigger = mode
	s.Armed = mode != TriggerNone
	s.Fired = false
}

// Feed processes one nibble (4 samples) at timestamp ts, updating
// whichever decoder currently owns the stream (or both, while neither is
// synced), and appends a completed Event to s.Events when a frame
// finishes.
func (s *Sniffer) Feed(nibble byte, ts uint32) error {
	switch s.active {
	case sideNone:
		return s.feedBothUnsynced(nibble, ts)
	case sideReader:
		return s.feedSide(s.millerDec, nil, nibble, ts, true)
	case sideTag:
		return s.feedSide(nil, s.manchDec, nibble, ts, false)
	}
	return nil
}

// feedBothUnsynced feeds both decoders while neither has claimed the
// stream, since at this point it is not yet known which direction is
// about to transmit. The first decoder to lock onto its
// start-of-communication pattern wins the stream; the other is reset so
// it doesn't misinterpret the winner's data bits as its own sync search.
func (s *Sniffer) feedBothUnsynced(nibble byte, ts uint32) error {
	if _, err := s.millerDec.Feed(nibble, ts); err != nil {
		s.millerDec.Reset()
	}
	if s.millerDec.Synced() {
		s.active = sideReader
		s.ReaderIsActive = true
		s.manchDec.Reset()
		return nil
	}
	if _, err := s.manchDec.Feed(nibble, ts); err != nil {
		s.manchDec.Reset()
	}
	if s.manchDec.Synced() {
		s.active = sideTag
		s.TagIsActive = true
		s.millerDec.Reset()
	}
	return nil
}

// feedSide feeds whichever decoder currently owns the stream and, on
// frame completion, records the Event and releases ownership.
func (s *Sniffer) feedSide(md *miller.Decoder, nd *manchester.Decoder, nibble byte, ts uint32, fromReader bool) error {
	if fromReader {
		if _, err := md.Feed(nibble, ts); err != nil {
			md.Reset()
			s.active = sideNone
			s.ReaderIsActive = false
			return err
		}
		if md.Done {
			s.record(md.Frame(), true)
			md.Reset()
			s.active = sideNone
			s.ReaderIsActive = false
		}
		return nil
	}
	if _, err := nd.Feed(nibble, ts); err != nil {
		nd.Reset()
		s.active = sideNone
		s.TagIsActive = false
		return err
	}
	if nd.Done {
		s.record(nd.Frame(), false)
		nd.Reset()
		s.active = sideNone
		s.TagIsActive = false
	}
	return nil
}

func (s *Sniffer) record(f *hf14a.Frame, fromReader bool) {
	s.Events = append(s.Events, Event{Frame: f, FromReader: fromReader})
	if !s.Armed || s.Fired {
		return
	}
	switch s.trigger {
	case TriggerReaderFrame:
		s.Fired = fromReader
	case TriggerTagFrame:
		s.Fired = !fromReader
	case TriggerEitherFrame:
		s.Fired = true
	}
}

// Drain pulls every available byte from rb, splitting it into nibbles
// and feeding the arbitrator, stopping early and returning ErrOverrun if
// the ring buffer reports an overrun (§4.6).
func (s *Sniffer) Drain(rb hf14a.RingBuffer, ts *uint32) error {
	for {
		b, ok := rb.Next()
		if !ok {
			return nil
		}
		if rb.Overrun() {
			return ErrOverrun
		}
		if err := s.Feed(b>>4, *ts); err != nil {
			return err
		}
		*ts++
		if err := s.Feed(b&0xf, *ts); err != nil {
			return err
		}
		*ts++
	}
}
