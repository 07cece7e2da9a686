// Package framer owns the ISO/IEC 14443-3-A framing details built on top
// of the shared Frame type: CRC-16 (ITU) append, verify and strip (§4.2).
// Parity and short frames are built by the root package's NewFrame and
// NewShortFrame.
package framer

import (
	"errors"

	"github.com/hf14a/engine"
)

// ErrMissingCRC is returned by Verify when a frame that is required to
// carry a CRC_A is too short to contain one (§4.2, §7).
var ErrMissingCRC = errors.New("framer: frame too short for CRC_A")

// ErrBadCRC is returned by Verify when the trailing CRC_A does not match
// the computed value over the preceding bytes (§4.2, §7).
var ErrBadCRC = errors.New("framer: CRC_A mismatch")

// crcPreset and crcPoly implement the ISO/IEC 14443-3 CRC_A: CRC-16/ITU
// with preset 0x6363 and the reversed CCITT polynomial 0x8408 applied
// LSB-first (§4.2).
const (
	crcPreset uint16 = 0x6363
	crcPoly   uint16 = 0x8408
)

// CRC computes the ISO/IEC 14443-3 CRC_A over data.
func CRC(data []byte) uint16 {
	crc := crcPreset
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Append returns a copy of f with a trailing CRC_A (little-endian) over
// its current bytes, and marks it as carrying a CRC.
func Append(f *hf14a.Frame) *hf14a.Frame {
	c := f.Clone()
	crc := CRC(c.Bytes)
	c.Bytes = append(c.Bytes, byte(crc), byte(crc>>8))
	c.BitLen = len(c.Bytes) * 8
	c.CRC = true
	return c
}

// Verify checks the trailing CRC_A of f against the CRC over the
// preceding bytes. It returns ErrMissingCRC if f is too short to carry
// one, or ErrBadCRC on mismatch.
func Verify(f *hf14a.Frame) error {
	n := f.FullBytes()
	if n < 3 {
		return ErrMissingCRC
	}
	payload := f.Bytes[:n-2]
	want := CRC(payload)
	got := uint16(f.Bytes[n-2]) | uint16(f.Bytes[n-1])<<8
	if got != want {
		return ErrBadCRC
	}
	return nil
}

// Strip returns a copy of f with its trailing CRC_A bytes removed.
func Strip(f *hf14a.Frame) *hf14a.Frame {
	if !f.CRC {
		return f.Clone()
	}
	c := f.Clone()
	n := c.FullBytes()
	if n >= 2 {
		c.Bytes = c.Bytes[:n-2]
		c.BitLen = len(c.Bytes) * 8
	}
	c.CRC = false
	return c
}
