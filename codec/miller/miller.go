// Package miller implements the Miller line code used for the
// reader-to-tag direction of the ISO/IEC 14443-A air interface (§4.1).
package miller

import (
	"errors"

	"github.com/hf14a/engine"
)

// Symbol byte codes as they appear in the modulation send buffer. Each
// symbol occupies one byte; the RF front-end expands it into the actual
// carrier-gap waveform.
const (
	SecX byte = 0x0c
	SecY byte = 0x00
	SecZ byte = 0xc0
)

// seq is the internal Miller sequence kind, tracked across bits so the
// encoder/decoder can enforce "Z must not directly follow X" and
// "Y immediately after SOC is illegal".
type seq int

const (
	seqNone seq = iota
	seqX
	seqY
	seqZ
)

// Encoder builds a reader-to-tag modulation buffer for one Frame at a
// time, following the rules of §4.1 "Miller encode".
type Encoder struct {
	buf  []byte
	last seq
	// durationUnits accumulates LastProxToAirDuration in half-tick
	// units (8 per symbol, minus the trailing-silence adjustment of
	// the final symbol).
	durationUnits uint32
}

// NewEncoder returns an Encoder ready to encode the first frame of a
// session (no previous symbol).
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode returns the modulation buffer for f: Sequence Z at start, then
// one symbol per data bit (X for 1, else Z or Y depending on the
// previous symbol), a parity symbol after each byte, and a final
// logical-0-then-Y end-of-communication marker.
func (e *Encoder) Encode(f *hf14a.Frame) []byte {
	e.buf = e.buf[:0]
	e.last = seqNone
	e.durationUnits = 0
	e.emit(seqZ) // Start of communication.

	nbytes := f.FullBytes()
	for i := 0; i < nbytes; i++ {
		b := f.Bytes[i]
		for bit := 0; bit < 8; bit++ {
			e.emitBit(b&(1<<uint(bit)) != 0)
		}
		parityByte := byte(0)
		if i/8 < len(f.Parity) {
			parityByte = f.Parity[i/8]
		}
		parityBit := parityByte&(0x80>>uint(i%8)) != 0
		e.emitBit(parityBit)
	}
	// Trailing partial byte (short frame / anti-collision fragment).
	if rem := f.BitLen % 8; rem != 0 && nbytes < len(f.Bytes) {
		b := f.Bytes[nbytes]
		for bit := 0; bit < rem; bit++ {
			e.emitBit(b&(1<<uint(bit)) != 0)
		}
	}
	// End of communication: logical 0 then Y.
	e.emitBit(false)
	e.emit(seqY)

	trailing := uint32(6)
	switch e.last {
	case seqX:
		trailing = 2
	case seqZ:
		trailing = 6
	}
	if e.durationUnits >= trailing {
		e.durationUnits -= trailing
	}
	return e.buf
}

// LastProxToAirDuration is the duration, in half-tick units, the most
// recently Encoded frame occupies on the air (§4.1 "Timing accounting").
func (e *Encoder) LastProxToAirDuration() uint32 {
	return e.durationUnits
}

func (e *Encoder) emitBit(one bool) {
	if one {
		e.emit(seqX)
		return
	}
	// Logic 0: Z is only legal if the previous symbol was not X.
	if e.last == seqX {
		e.emit(seqY)
	} else {
		e.emit(seqZ)
	}
}

func (e *Encoder) emit(s seq) {
	var b byte
	switch s {
	case seqX:
		b = SecX
	case seqY:
		b = SecY
	case seqZ:
		b = SecZ
	}
	e.buf = append(e.buf, b)
	e.durationUnits += 8
	e.last = s
}

// decState is the Miller decoder's state machine (§3).
type decState int

const (
	stateUnsynced decState = iota
	stateSOC
	stateMillerX
	stateMillerY
	stateMillerZ
)

var errFraming = errors.New("miller: framing error")

// socPattern is the 32-bit start-of-communication template searched for
// in the rolling sample window (§4.1): 12 ones, two zeros, then five
// ones, expressed here as the canonical unsigned 32-bit pattern used to
// set syncBit. Both operands are treated as unsigned per §9's fix to the
// signed/unsigned ambiguity flagged in spec.md.
const socPattern uint32 = 0b00000111_11111111_10001111_10000000

// Decoder decodes a reader-to-tag Miller-coded sample stream, nibble by
// nibble (one nibble = 4 samples = one half-bit period), into bytes with
// parity and timestamps (§3, §4.1).
type Decoder struct {
	shiftReg uint32 // last 32 raw sample bits
	syncBit  int    // 0..7, -1 = unsynchronised
	state    decState

	dataParity uint16 // accumulates up to 9 bits: 8 data + 1 parity
	bitCount   int

	outBytes  []byte
	outParity []byte
	parityAcc byte
	byteCount int

	// partialBits is the number of valid bits in the last entry of
	// outBytes when end-of-communication cuts a group short before its
	// parity bit arrives (a short frame, or an anti-collision fragment);
	// 0 means every outBytes entry is a full, parity-following byte.
	partialBits int

	start, end uint32
	firstHalf  bool
	halfModA   bool // modulation flag captured during the first half of the current bit period

	Done bool
}

// NewDecoder returns a Decoder in the UNSYNCD state.
func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Reset()
	return d
}

// Reset restores the decoder to UNSYNCD, as required before every frame
// (§3 Lifecycles: "decoders are reset before every frame").
func (d *Decoder) Reset() {
	*d = Decoder{syncBit: -1}
}

// isModulation reports whether a 4-bit sample nibble represents a pause
// in the unmodulated carrier (§4.1): one of 0001, 0011, 0111, 1001.
func isModulation(nibble byte) bool {
	switch nibble & 0xf {
	case 0b0001, 0b0011, 0b0111, 0b1001:
		return true
	default:
		return false
	}
}

// Feed processes one nibble (4 samples) at timestamp ts (sub-carrier
// cycles) and reports whether a complete byte has just been appended to
// the bytes returned by Frame; Done reports whether the frame has
// terminated.
func (d *Decoder) Feed(nibble byte, ts uint32) (byteReady bool, err error) {
	d.shiftReg = d.shiftReg<<4 | uint32(nibble&0xf)

	if d.state == stateUnsynced {
		d.trySync(ts)
		return false, nil
	}

	mod := isModulation(nibble)
	if !d.firstHalf {
		d.firstHalf = true
		d.halfModA = mod
		return false, nil
	}
	d.firstHalf = false
	halfA, halfB := d.halfModA, mod

	var bit byte
	var next decState
	switch {
	case halfA && !halfB: // Sequence Z: modulation in first half only -> logic 0.
		if d.state == stateMillerX {
			d.Reset()
			return false, errFraming
		}
		bit, next = 0, stateMillerZ
	case !halfA && halfB: // Sequence X: modulation in second half only -> logic 1.
		bit, next = 1, stateMillerX
	case !halfA && !halfB: // Sequence Y: no modulation -> logic 0, or EOC.
		if d.state == stateSOC {
			d.Reset()
			return false, errFraming
		}
		if d.state == stateMillerY || d.state == stateMillerZ {
			d.Done = true
			d.end = ts
			if d.bitCount > 0 {
				// The logic 0 just before this Y belongs to the
				// end-of-communication sequence, not to the data.
				d.bitCount--
				d.dataParity &^= 1 << uint(d.bitCount)
			}
			if d.bitCount > 0 {
				// Short frame or anti-collision fragment: end-of-communication
				// cut the group short before its parity bit arrived.
				d.outBytes = append(d.outBytes, byte(d.dataParity&0xff))
				d.partialBits = d.bitCount
				d.bitCount = 0
				d.dataParity = 0
			}
			return false, nil
		}
		bit, next = 0, stateMillerY
	default: // Both halves modulated: framing error.
		d.Reset()
		return false, errFraming
	}
	d.state = next
	d.end = ts

	d.dataParity |= uint16(bit) << uint(d.bitCount)
	d.bitCount++
	if d.bitCount == 9 {
		dataByte := byte(d.dataParity & 0xff)
		parityBit := (d.dataParity >> 8) & 1
		d.outBytes = append(d.outBytes, dataByte)
		d.parityAcc <<= 1
		if parityBit != 0 {
			d.parityAcc |= 1
		}
		d.byteCount++
		if d.byteCount%8 == 0 {
			d.outParity = append(d.outParity, d.parityAcc)
			d.parityAcc = 0
		}
		d.bitCount = 0
		d.dataParity = 0
		return true, nil
	}
	return false, nil
}

// Synced reports whether the decoder has locked onto a
// start-of-communication pattern and is actively decoding a frame.
func (d *Decoder) Synced() bool {
	return d.state != stateUnsynced
}

// ForceSync marks the decoder as synchronised at ts without running the
// software sync search, for front ends that detect start-of-communication
// in hardware and hand the decoder a ready-to-decode stream (§4.6).
func (d *Decoder) ForceSync(ts uint32) {
	d.state = stateSOC
	d.syncBit = 0
	d.start = ts
}

// Frame assembles the bytes decoded so far into a Frame. It is valid to
// call once Done is true, or speculatively while a frame is in progress
// (e.g. for an anti-collision fragment cut short by a collision).
func (d *Decoder) Frame() *hf14a.Frame {
	parity := append([]byte(nil), d.outParity...)
	if d.byteCount%8 != 0 {
		// Flush a partial trailing parity byte, MSB-aligned.
		parity = append(parity, d.parityAcc<<uint(8-d.byteCount%8))
	}
	bitLen := len(d.outBytes) * 8
	if d.partialBits > 0 {
		bitLen -= 8 - d.partialBits
	}
	f := &hf14a.Frame{
		Bytes:  append([]byte(nil), d.outBytes...),
		BitLen: bitLen,
		Parity: parity,
		Start:  d.start,
		End:    d.end,
	}
	return f
}

// trySync searches the 32-bit rolling sample window for the
// start-of-communication pattern at every possible bit rotation
// (syncBit 0..7), matching the "xxxxx111 11111111 100x1111 1xxxxxxx"
// template.
func (d *Decoder) trySync(ts uint32) {
	const mask uint32 = 0b00000111_11111111_11101111_10000000
	for rot := 0; rot < 8; rot++ {
		win := d.shiftReg << uint(rot)
		if win&mask == socPattern&mask {
			d.syncBit = rot
			d.state = stateSOC
			d.start = ts
			return
		}
	}
}
