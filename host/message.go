// Package host defines the CBOR wire encoding exchanged between the
// engine and a controlling host process over the transport layer:
// command configuration, selection results and collected nonces
// (§4.9, §6).
package host

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// PollingFlagsMessage mirrors the host-settable polling loop annotation
// (§6 `polling_loop_annotation`).
type PollingFlagsMessage struct {
	Magsafe bool `cbor:"1,keyasint,omitempty"`
	Extra   [][]byte `cbor:"2,keyasint,omitempty"`
}

// ConfigMessage is the wire form of hf14a.Config (§6).
type ConfigMessage struct {
	ForceAntiCol int  `cbor:"1,keyasint,omitempty"`
	ForceBCC     int  `cbor:"2,keyasint,omitempty"`
	ForceCL2     int  `cbor:"3,keyasint,omitempty"`
	ForceCL3     int  `cbor:"4,keyasint,omitempty"`
	ForceRATS    int  `cbor:"5,keyasint,omitempty"`
	Magsafe      bool `cbor:"6,keyasint,omitempty"`

	Connect          bool `cbor:"7,keyasint,omitempty"`
	NoSelect         bool `cbor:"8,keyasint,omitempty"`
	NoRATS           bool `cbor:"9,keyasint,omitempty"`
	APDU             bool `cbor:"10,keyasint,omitempty"`
	Raw              bool `cbor:"11,keyasint,omitempty"`
	AppendCRC        bool `cbor:"12,keyasint,omitempty"`
	SendChaining     bool `cbor:"13,keyasint,omitempty"`
	SetTimeout       bool `cbor:"14,keyasint,omitempty"`
	RequestTrigger   bool `cbor:"15,keyasint,omitempty"`
	NoDisconnect     bool `cbor:"16,keyasint,omitempty"`
	TopazMode        bool `cbor:"17,keyasint,omitempty"`
	Crypto1Mode      bool `cbor:"18,keyasint,omitempty"`
	UseCustomPolling bool `cbor:"19,keyasint,omitempty"`
}

// CardSelectMessage is the wire form of hf14a.CardSelect, trimmed to the
// bytes actually present (§6 `iso14a_card_select_t`).
type CardSelectMessage struct {
	UID  []byte `cbor:"1,keyasint"`
	ATQA []byte `cbor:"2,keyasint"`
	SAK  byte   `cbor:"3,keyasint"`
	ATS  []byte `cbor:"4,keyasint,omitempty"`
}

// NoncesMessage carries a batch of tag nonces observed during an
// anti-collision or attack-harness session back to the host (§4.7,
// §6).
type NoncesMessage struct {
	Nonces []uint32 `cbor:"1,keyasint"`
}

// Encode marshals v (one of the Message types above) into its CBOR wire
// form.
func Encode(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("host: encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals a CBOR wire message into v, which must be a pointer
// to one of the Message types above.
func Decode(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("host: decode: %w", err)
	}
	return nil
}
