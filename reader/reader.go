// Package reader implements the reader-side anti-collision and selection
// engine (§4.4): POLL, the cascaded anti-collision loop with bitwise
// collision resolution, BCC verification, and RATS/PPS.
package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/hf14a/engine"
	"github.com/hf14a/engine/framer"
)

// Transceiver is the narrow interface the selection engine needs from
// the rest of the session: send one frame, then wait for the tag's
// response (or a collision reported at a bit position).
type Transceiver interface {
	// Transmit sends f to the field.
	Transmit(ctx context.Context, f *hf14a.Frame) error
	// Receive waits for a tag response. collisionPos is the 1-based bit
	// index of the first colliding bit if one occurred during this
	// reception, or 0 otherwise (§4.4 step 2).
	Receive(ctx context.Context) (f *hf14a.Frame, collisionPos int, err error)
}

// Cascade level select command bytes (§4.4).
const (
	CL1 byte = 0x93
	CL2 byte = 0x95
	CL3 byte = 0x97
)

var cascadeLevels = [...]byte{CL1, CL2, CL3}

var (
	errNoCard      = errors.New("reader: no card in field")
	errBCCMismatch = errors.New("reader: BCC mismatch")
	errSelectFailed = errors.New("reader: selection failed")
)

// Reader drives a selection round trip over a Transceiver, honouring the
// force-policy overrides of hf14a.Config.
type Reader struct {
	tx  Transceiver
	cfg hf14a.Config
}

// New returns a Reader bound to tx using cfg's force-policy overrides.
func New(tx Transceiver, cfg hf14a.Config) *Reader {
	return &Reader{tx: tx, cfg: cfg}
}

// Poll cycles through cfg.Polling.Frames until a tag answers with an
// ATQA, or returns errNoCard once every frame in the profile has been
// tried without a response (§4.4 step 1). With cfg.Magsafe set, the
// Magsafe WUPA frames are tried after them.
func (r *Reader) Poll(ctx context.Context) ([2]byte, error) {
	polling := r.cfg.Polling
	if r.cfg.Magsafe {
		polling = polling.WithMagsafe()
	}
	for _, pf := range polling.Frames {
		if err := r.tx.Transmit(ctx, pf.Frame); err != nil {
			return [2]byte{}, fmt.Errorf("poll: %w", err)
		}
		f, _, err := r.tx.Receive(ctx)
		if err != nil {
			continue
		}
		if f.BitLen < 16 {
			continue
		}
		var atqa [2]byte
		copy(atqa[:], f.Bytes[:2])
		return atqa, nil
	}
	return [2]byte{}, errNoCard
}

// Select runs the full cascaded anti-collision and selection loop
// (§4.4 step 2), honouring ForceCL2/ForceCL3 overrides, and returns the
// assembled CardSelect.
func (r *Reader) Select(ctx context.Context) (*hf14a.CardSelect, error) {
	cs := &hf14a.CardSelect{}
	uidOffset := 0
	for level, cmd := range cascadeLevels {
		if level == 1 && r.cfg.ForceCL2 == hf14a.ForceSkip {
			break
		}
		if level == 2 && r.cfg.ForceCL3 == hf14a.ForceSkip {
			break
		}
		uidPart, bcc, err := r.anticollide(ctx, cmd)
		if err != nil {
			return nil, fmt.Errorf("select: cascade level %d: %w", level+1, err)
		}
		sak, err := r.selectCard(ctx, cmd, uidPart, bcc)
		if err != nil {
			return nil, fmt.Errorf("select: cascade level %d: %w", level+1, err)
		}
		cs.SAK = sak

		n := copyUID(cs.UID[uidOffset:], uidPart)
		uidOffset += n
		cs.UIDLen = uidOffset

		forceNext := (level == 0 && r.cfg.ForceCL2 == hf14a.ForceAlways) ||
			(level == 1 && r.cfg.ForceCL3 == hf14a.ForceAlways)
		if !hf14a.CascadeContinues(sak) && !forceNext {
			return cs, nil
		}
	}
	return cs, nil
}

// copyUID copies the cascade tag (UIDn) bytes of a 4-byte anti-collision
// UID part into dst, dropping the leading cascade-tag byte 0x88 that
// marks a non-final UID part (§3, §4.4).
func copyUID(dst, uidPart []byte) int {
	if len(uidPart) == 4 && uidPart[0] == 0x88 {
		return copy(dst, uidPart[1:4])
	}
	return copy(dst, uidPart)
}

// anticollide runs the bitwise collision-resolution walk for one
// cascade level: repeatedly narrow NVB using the reported collision
// position until a full 4-byte UID+BCC is received without collision
// (§4.4 step 2, the `walk` rule).
func (r *Reader) anticollide(ctx context.Context, cmd byte) (uidPart []byte, bcc byte, err error) {
	knownBits := 0
	var known [5]byte // UID0..3 + BCC, partially known, LSB-first bit order

	for attempt := 0; attempt < 32; attempt++ {
		nvb := nvbForKnownBits(knownBits)
		req := buildAnticolRequest(cmd, nvb, known[:], knownBits)

		if err := r.tx.Transmit(ctx, req); err != nil {
			return nil, 0, fmt.Errorf("%w", err)
		}
		resp, collPos, err := r.tx.Receive(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("%w", err)
		}
		mergeResponse(known[:], knownBits, resp)

		if collPos == 0 {
			// Full 5 bytes received with no collision: done.
			uidPart = append([]byte(nil), known[:4]...)
			bcc = known[4]
			if want := uidPart[0] ^ uidPart[1] ^ uidPart[2] ^ uidPart[3]; bcc != want {
				switch r.cfg.ForceBCC {
				case hf14a.BCCAccept:
					return uidPart, bcc, nil
				case hf14a.BCCFix:
					return uidPart, want, nil
				}
				return nil, 0, errBCCMismatch
			}
			return uidPart, bcc, nil
		}
		// Resolve the colliding bit as 1 and continue the walk; the
		// collision position is relative to knownBits (§4.4 `walk`).
		knownBits = knownBits + collPos
		setBit(known[:], knownBits-1, true)
	}
	return nil, 0, errSelectFailed
}

// nvbForKnownBits encodes the NVB byte for a SELECT/anti-collision
// request: the high nibble counts whole bytes of the command (2 fixed
// header bytes plus however many UID bytes are already known), the low
// nibble counts the bits known within the last partial byte (§4.4 step
// 2).
func nvbForKnownBits(knownBits int) byte {
	nbytes := knownBits / 8
	return byte((2+nbytes)<<4) | byte(knownBits&7)
}

// buildAnticolRequest assembles the SELECT command frame for the current
// NVB, carrying the UID bits already known (§4.4 step 2).
func buildAnticolRequest(cmd, nvb byte, known []byte, knownBits int) *hf14a.Frame {
	nbytes := (knownBits + 7) / 8
	data := make([]byte, 2+nbytes)
	data[0] = cmd
	data[1] = nvb
	copy(data[2:], known[:nbytes])
	full := hf14a.NewFrame(data)
	full.BitLen = 16 + knownBits
	return full
}

// mergeResponse copies the newly received bits of resp into known,
// starting at knownBits (bit granularity, LSB-first within each byte, as
// transmitted over the air).
func mergeResponse(known []byte, knownBits int, resp *hf14a.Frame) {
	for i := 0; i < resp.BitLen && knownBits+i < len(known)*8; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		bit := resp.Bytes[byteIdx]&(1<<uint(bitIdx)) != 0
		setBit(known, knownBits+i, bit)
	}
}

func setBit(buf []byte, pos int, v bool) {
	byteIdx := pos / 8
	bitIdx := pos % 8
	if byteIdx >= len(buf) {
		return
	}
	if v {
		buf[byteIdx] |= 1 << uint(bitIdx)
	} else {
		buf[byteIdx] &^= 1 << uint(bitIdx)
	}
}

// selectCard sends the final SELECT (NVB=0x70) for a fully-resolved UID
// part and returns the tag's SAK (§4.4 step 2).
func (r *Reader) selectCard(ctx context.Context, cmd byte, uidPart []byte, bcc byte) (byte, error) {
	data := make([]byte, 0, 9)
	data = append(data, cmd, 0x70)
	data = append(data, uidPart...)
	data = append(data, bcc)
	req := framer.Append(hf14a.NewFrame(data))

	if err := r.tx.Transmit(ctx, req); err != nil {
		return 0, err
	}
	resp, collPos, err := r.tx.Receive(ctx)
	if err != nil {
		return 0, err
	}
	if collPos != 0 {
		return 0, errSelectFailed
	}
	if err := framer.Verify(resp); err != nil {
		return 0, err
	}
	if resp.FullBytes() < 1 {
		return 0, errSelectFailed
	}
	return resp.Bytes[0], nil
}

// RATS sends Request for Answer To Select and returns the tag's raw ATS
// bytes (§4.4 step 3, §4.8). CID 0 is always used; FSDI is fixed at 8
// (256-byte frame size).
func (r *Reader) RATS(ctx context.Context) ([]byte, error) {
	if r.cfg.NoRATS || r.cfg.ForceRATS == hf14a.ForceSkip {
		return nil, nil
	}
	const fsdi = 0x08
	req := framer.Append(hf14a.NewFrame([]byte{0xE0, fsdi<<4 | 0x00}))
	if err := r.tx.Transmit(ctx, req); err != nil {
		return nil, fmt.Errorf("rats: %w", err)
	}
	resp, _, err := r.tx.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("rats: %w", err)
	}
	if err := framer.Verify(resp); err != nil {
		return nil, fmt.Errorf("rats: %w", err)
	}
	return framer.Strip(resp).Bytes, nil
}
