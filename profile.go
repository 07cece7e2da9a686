package hf14a

import "time"

// TagProfile enumerates the tag types the emulator (§4.5) and the
// attack harnesses (§4.7) know how to impersonate or target.
type TagProfile int

const (
	ProfileMifareClassic1k TagProfile = iota
	ProfileMifareClassic4k
	ProfileMifareMini
	ProfileUltralight
	ProfileUltralightC
	ProfileNTAG215
	ProfileDESFire
	ProfileJCOP
	ProfileJCOPEMV
	ProfileTNP3
	ProfileFM11RF005SH
	ProfileST25TA
	ProfileHIDSeos
)

// Defaults describes the static identity bytes a profile presents before
// any session-specific UID is mixed in (§3 "Tag profile").
type Defaults struct {
	ATQA     [2]byte
	SAK      byte
	ATS      []byte
	Pages    int // page count for UL/NTAG family profiles, 0 otherwise
	Blocks   int // 16-byte block count for Mifare Classic family, 0 otherwise
	Is14443_4 bool
}

// defaults holds the built-in identity for each profile (§3, §4.5).
var defaults = map[TagProfile]Defaults{
	ProfileMifareClassic1k: {ATQA: [2]byte{0x04, 0x00}, SAK: 0x08, Blocks: 64},
	ProfileMifareClassic4k: {ATQA: [2]byte{0x02, 0x00}, SAK: 0x18, Blocks: 256},
	ProfileMifareMini:      {ATQA: [2]byte{0x04, 0x00}, SAK: 0x09, Blocks: 20},
	ProfileUltralight:      {ATQA: [2]byte{0x44, 0x00}, SAK: 0x00, Pages: 16},
	ProfileUltralightC:     {ATQA: [2]byte{0x44, 0x00}, SAK: 0x00, Pages: 48},
	ProfileNTAG215:         {ATQA: [2]byte{0x44, 0x00}, SAK: 0x00, Pages: 135},
	ProfileDESFire: {
		ATQA: [2]byte{0x44, 0x03}, SAK: 0x20, Is14443_4: true,
		ATS: []byte{0x06, 0x75, 0x77, 0x81, 0x02, 0x80},
	},
	ProfileJCOP: {
		ATQA: [2]byte{0x04, 0x00}, SAK: 0x28, Is14443_4: true,
		ATS: []byte{0x06, 0x75, 0x77, 0x81, 0x02, 0x80},
	},
	ProfileJCOPEMV: {
		ATQA: [2]byte{0x04, 0x00}, SAK: 0x28, Is14443_4: true,
		ATS: []byte{0x06, 0x75, 0x77, 0x81, 0x02, 0x80},
	},
	ProfileTNP3:        {ATQA: [2]byte{0x00, 0x03}, SAK: 0x01, Blocks: 64},
	ProfileFM11RF005SH: {ATQA: [2]byte{0x03, 0x00}, SAK: 0x0A, Blocks: 64},
	ProfileST25TA: {
		ATQA: [2]byte{0x42, 0x03}, SAK: 0x20, Is14443_4: true,
		ATS: []byte{0x06, 0x75, 0x77, 0x81, 0x02, 0x80},
	},
	ProfileHIDSeos: {
		ATQA: [2]byte{0x44, 0x03}, SAK: 0x20, Is14443_4: true,
		ATS: []byte{0x06, 0x75, 0x77, 0x81, 0x02, 0x80},
	},
}

// Defaults returns the static identity bytes built into p.
func (p TagProfile) Defaults() Defaults {
	return defaults[p]
}

// SlotRole indexes the precompiled modulation buffer table maintained by
// the tag emulator (§3 "Precompiled response slot").
type SlotRole int

const (
	SlotATQA SlotRole = iota
	SlotUIDC1
	SlotUIDC2
	SlotUIDC3
	SlotSAKC1
	SlotSAKC2
	SlotSAKC3
	SlotATS
	SlotVersion
	SlotSign
	SlotPPS
	SlotPACK
	numSlots
)

// Slot is a precompiled response: the logical frame, its pre-encoded
// modulation buffer, and the ProxToAir duration in sub-carrier cycles
// it occupies once sent.
type Slot struct {
	Frame          *Frame
	Modulation     []byte
	ProxToAirCycles uint32
}

// PollingFrame is one entry of a PollingProfile: a frame to transmit, the
// bit length of its last byte (supporting WUPA variants with a non-7-bit
// final byte), and an optional settle delay after sending it.
type PollingFrame struct {
	Frame     *Frame
	LastBits  int
	PostDelay time.Duration
}

// PollingProfile is the ordered list of wake-up frames the reader
// selection engine cycles through during POLL (§3, §4.4 step 1), plus a
// global extra timeout bounding the whole poll loop.
type PollingProfile struct {
	Frames       []PollingFrame
	ExtraTimeout time.Duration
}

// DefaultPollingProfile is the standard single-frame WUPA poll: one byte
// 0x52 at 7 bits, per §4.4.
func DefaultPollingProfile() PollingProfile {
	return PollingProfile{
		Frames: []PollingFrame{
			{Frame: NewShortFrame(0x52), LastBits: 7},
		},
		ExtraTimeout: 5 * time.Millisecond,
	}
}

// WithMagsafe appends four alternate WUPA frames used by "Magsafe"-style
// wake-up variants, per the `magsafe` config option (§6).
func (p PollingProfile) WithMagsafe() PollingProfile {
	alt := []byte{0xf0, 0xf1, 0xf2, 0xf3}
	for _, b := range alt {
		p.Frames = append(p.Frames, PollingFrame{Frame: NewShortFrame(b), LastBits: 7})
	}
	return p
}
