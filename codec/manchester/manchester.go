// Package manchester implements the Manchester line code used for the
// tag-to-reader direction of the ISO/IEC 14443-A air interface (§4.1).
package manchester

import (
	"errors"

	"github.com/hf14a/engine"
)

// Symbol byte codes as they appear in the modulation send buffer.
const (
	SecD    byte = 0xf0 // Start bit / logic 1 half.
	SecE    byte = 0x0f // Logic 0 half.
	SecF    byte = 0x00 // Stop bit / silence.
	SecColl byte = 0xff // Forced collision (both halves modulated).
)

// stuffBits is the number of correction stuff-bits a tag emits before
// the Manchester start bit (§4.1 "Manchester encode").
const stuffBits = 8

var errFraming = errors.New("manchester: framing error")

// Encoder builds a tag-to-reader modulation buffer for one Frame at a
// time (§4.1 "Manchester encode").
type Encoder struct {
	buf           []byte
	durationUnits uint32
}

// NewEncoder returns an Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode returns the modulation buffer for f: correction stuff-bits,
// start bit, one D/E symbol per data bit, a parity symbol per byte, and
// a stop bit.
func (e *Encoder) Encode(f *hf14a.Frame) []byte {
	e.buf = e.buf[:0]
	e.durationUnits = 0
	for i := 0; i < stuffBits; i++ {
		e.emit(SecF)
	}
	e.emit(SecD) // Start bit.

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
	if rem := f.BitLen % 8; rem != 0 && nbytes < len(f.Bytes) {
		b := f.Bytes[nbytes]
		for bit := 0; bit < rem; bit++ {
			e.emitBit(b&(1<<uint(bit)) != 0)
		}
	}
	e.emit(SecF) // Stop bit.
	return e.buf
}

// EncodeCollision builds a response that forces the reader to see
// multi-card modulation at every data and parity bit position for a
// frame of the given bit length (§4.1: "substitutes SEC_COLL for all
// data and parity positions").
func (e *Encoder) EncodeCollision(bitLen int) []byte {
	e.buf = e.buf[:0]
	e.durationUnits = 0
	for i := 0; i < stuffBits; i++ {
		e.emit(SecF)
	}
	e.emit(SecD)
	nbytes := bitLen / 8
	for i := 0; i < nbytes; i++ {
		for bit := 0; bit < 9; bit++ { // 8 data bits + parity.
			e.emit(SecColl)
		}
	}
	for bit := 0; bit < bitLen%8; bit++ {
		e.emit(SecColl)
	}
	e.emit(SecF)
	return e.buf
}

func (e *Encoder) emitBit(one bool) {
	if one {
		e.emit(SecD)
	} else {
		e.emit(SecE)
	}
}

func (e *Encoder) emit(b byte) {
	e.buf = append(e.buf, b)
	e.durationUnits += 8
}

// LastProxToAirDuration is the duration, in half-tick units, of the most
// recently encoded response.
func (e *Encoder) LastProxToAirDuration() uint32 {
	return e.durationUnits
}

// Code4bitAnswerAsTag builds the dedicated 4-bit acknowledgement
// encoding (§4.5): 5 stuff bits, a start bit (D), four data bits
// (D/E per LSB-first nibble), and a stop bit (F). Used for the
// ACK/NACK_PA/NACK_IV/NACK_NA codes.
func Code4bitAnswerAsTag(code byte) []byte {
	const fourBitStuffBits = 5
	buf := make([]byte, 0, fourBitStuffBits+1+4+1)
	for i := 0; i < fourBitStuffBits; i++ {
		buf = append(buf, SecF)
	}
	buf = append(buf, SecD)
	for bit := 0; bit < 4; bit++ {
		if code&(1<<uint(bit)) != 0 {
			buf = append(buf, SecD)
		} else {
			buf = append(buf, SecE)
		}
	}
	buf = append(buf, SecF)
	return buf
}

// Four-bit acknowledgement codes (§4.5).
const (
	AckACK    byte = 0xA
	NackPA    byte = 0x1 // CRC/parity error.
	NackIV    byte = 0x0 // Invalid argument.
	NackNA    byte = 0x4 // Counter overflow / not authenticated.
)

// decState is the Manchester decoder's state machine (§3).
type decState int

const (
	stateUnsynced decState = iota
	stateSOC
	stateD
	stateE
)

// isModulation reports whether a 4-bit sample nibble is modulated for
// Manchester purposes: 3 or 4 ones (§4.1).
func isModulation(nibble byte) bool {
	n := 0
	for i := 0; i < 4; i++ {
		if nibble&(1<<uint(i)) != 0 {
			n++
		}
	}
	return n >= 3
}

// Decoder decodes a tag-to-reader Manchester-coded sample stream,
// tracking the bit position of the first detected collision (§3).
type Decoder struct {
	shiftReg     uint32
	syncBit      int
	state        decState
	zeroNibbles  int // consecutive all-zero nibbles seen while unsynced

	dataParity uint16
	bitCount   int

	outBytes  []byte
	outParity []byte
	parityAcc byte
	byteCount int

	totalBits    int
	collisionPos int // 1-based bit index of first collision, 0 = none

	// partialBits is the number of valid bits in the last entry of
	// outBytes when end-of-communication cuts a group short before its
	// parity bit arrives (e.g. a 4-bit ACK/NACK); 0 means every outBytes
	// entry is a full, parity-following byte.
	partialBits int

	start, end uint32
	firstHalf  bool
	halfModA   bool

	Done bool
}

// NewDecoder returns a Decoder in the UNSYNCD state.
func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Reset()
	return d
}

// Reset restores the decoder to UNSYNCD.
func (d *Decoder) Reset() {
	*d = Decoder{syncBit: -1}
}

// CollisionPos returns the 1-based bit index of the first collision
// observed in the current frame, or 0 if none (§3, §4.4).
func (d *Decoder) CollisionPos() int {
	return d.collisionPos
}

// manchesterSOC is the pattern searched for once at least two
// consecutive unmodulated nibbles have stabilised the field (§4.1).
const manchesterSOC uint32 = 0b1111_0000

// Feed processes one nibble (4 samples) at timestamp ts.
func (d *Decoder) Feed(nibble byte, ts uint32) (byteReady bool, err error) {
	d.shiftReg = d.shiftReg<<4 | uint32(nibble&0xf)

	if d.state == stateUnsynced {
		if nibble == 0 {
			d.zeroNibbles++
		} else if d.zeroNibbles < 2 {
			// Once the field has been seen stable, keep that state so the
			// modulated half of the SOC pattern does not cancel it.
			d.zeroNibbles = 0
		}
		if d.zeroNibbles >= 2 && d.shiftReg&0xff == manchesterSOC {
			d.state = stateSOC
			d.start = ts
		}
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
	case halfA && !halfB: // D: logic 1.
		bit, next = 1, stateD
	case !halfA && halfB: // E: logic 0.
		bit, next = 0, stateE
	case !halfA && !halfB: // Neither half: end of communication.
		d.Done = true
		d.end = ts
		if d.bitCount > 0 {
			// Short response (e.g. a 4-bit ACK/NACK) cut by EOC before its
			// parity bit arrived.
			d.outBytes = append(d.outBytes, byte(d.dataParity&0xff))
			d.partialBits = d.bitCount
			d.bitCount = 0
			d.dataParity = 0
		}
		return false, nil
	default: // Both halves: collision.
		if d.collisionPos == 0 {
			d.collisionPos = d.totalBits + 1
		}
		bit, next = 0, stateD
	}
	d.state = next
	d.end = ts
	d.totalBits++

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
	d.start = ts
}

// Frame assembles the bytes decoded so far into a Frame.
func (d *Decoder) Frame() *hf14a.Frame {
	parity := append([]byte(nil), d.outParity...)
	if d.byteCount%8 != 0 {
		parity = append(parity, d.parityAcc<<uint(8-d.byteCount%8))
	}
	bitLen := len(d.outBytes) * 8
	if d.partialBits > 0 {
		bitLen -= 8 - d.partialBits
	}
	return &hf14a.Frame{
		Bytes:  append([]byte(nil), d.outBytes...),
		BitLen: bitLen,
		Parity: parity,
		Start:  d.start,
		End:    d.end,
	}
}
