package hf14a

import (
	"context"
	"fmt"
)

// Mode selects what the RF front-end's field controller should be doing
// (§6 `set_fpga_mode`).
type Mode int

const (
	ModeReaderMod Mode = iota
	ModeReaderListen
	ModeTagListen
	ModeTagMod
	ModeSniffer
)

// SampleSource is the narrow interface the RF front-end exposes for
// pulling raw samples: 4 samples (one half-bit period) packed into a
// nibble per call (§6 `sample_nibble`).
type SampleSource interface {
	NextNibble(ctx context.Context) (byte, error)
}

// SymbolSink is the narrow interface for pushing pre-encoded modulation
// symbols into the front-end's send pipeline (§6 `send_symbol`).
type SymbolSink interface {
	SendSymbol(b byte) error
}

// Clock is the monotonic sub-carrier-cycle/16 counter shared between
// encode and decode (§5, §6 `now_ssp`).
type Clock interface {
	NowSSP() uint32
}

// FieldController switches the RF front-end between reader/tag/sniffer
// operating modes (§6 `set_fpga_mode`).
type FieldController interface {
	SetMode(m Mode) error
}

// RingBuffer models the sniffer's DMA sample ring as a narrow interface
// instead of a raw pointer+capacity pair (§6 `dma_ring`).
type RingBuffer interface {
	// Next returns the next buffered byte, or ok=false if the ring is
	// currently empty.
	Next() (b byte, ok bool)
	// Overrun reports whether the ring has filled past the fatal
	// threshold (§4.6, ≥90%) since the last call.
	Overrun() bool
}

// Session is the single mutable engine context described in §9 DESIGN
// NOTES, bundling the RF collaborators, the Config and the shared timing
// state instead of keeping them in package-level globals. The reader,
// emulator, sniffer and darkside packages do not take a Session; each is
// constructed from its own arguments.
type Session struct {
	Clock   Clock
	Sink    SymbolSink
	Source  SampleSource
	Field   FieldController
	Config  Config

	// NextTransferTime and LastTimeProxToAirStart are the shared
	// mutable timing state described in §5: written by the send path,
	// read by both send and receive to align windows.
	NextTransferTime       uint32
	LastTimeProxToAirStart uint32
	LastProxToAirDuration  uint32
}

// NewSession constructs a Session around the given RF collaborators with
// the default configuration.
func NewSession(clock Clock, sink SymbolSink, source SampleSource, field FieldController) *Session {
	return &Session{
		Clock:  clock,
		Sink:   sink,
		Source: source,
		Field:  field,
		Config: DefaultConfig(),
	}
}

// ForcePolicy is a three-way override used throughout Config: run the
// standard protocol-mandated behaviour, always force the alternate
// behaviour, or always skip the step (§6 `forceanticol`, `forcebcc`,
// `forcerats`, etc.).
type ForcePolicy int

const (
	ForceStd ForcePolicy = iota
	ForceAlways
	ForceSkip
)

// BCCPolicy controls how a BCC mismatch during anti-collision is handled
// (§4.4 step 2, §7).
type BCCPolicy int

const (
	BCCStd BCCPolicy = iota
	BCCFix
	BCCAccept
)

// Config mirrors hf14a_config_t (§6).
type Config struct {
	ForceAntiCol ForcePolicy
	ForceBCC     BCCPolicy
	ForceCL2     ForcePolicy
	ForceCL3     ForcePolicy
	ForceRATS    ForcePolicy
	Magsafe      bool

	// Polling is the full list of polling frames: DefaultPollingProfile
	// unless overridden, including any extra frame appended via
	// `polling_loop_annotation`.
	Polling PollingProfile

	// Connect / NoSelect / NoRATS / APDU / Raw / AppendCRC /
	// SendChaining / SetTimeout / RequestTrigger / NoDisconnect /
	// TopazMode / Crypto1Mode / UseCustomPolling mirror the host
	// command flags of §6.
	Connect          bool
	NoSelect         bool
	NoRATS           bool
	APDU             bool
	Raw              bool
	AppendCRC        bool
	SendChaining     bool
	SetTimeout       bool
	RequestTrigger   bool
	NoDisconnect     bool
	TopazMode        bool
	Crypto1Mode      bool
	UseCustomPolling bool
}

// DefaultConfig returns the standard (non-overridden) configuration.
func DefaultConfig() Config {
	cfg := Config{
		Polling: DefaultPollingProfile(),
	}
	return cfg
}

// Status mirrors the exit/status codes of §6.
type Status int

const (
	StatusSuccess Status = iota
	StatusAborted
	StatusInitError
	StatusAllocError
	StatusInvalidArg
	StatusSoftError
	StatusTearOff
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAborted:
		return "aborted"
	case StatusInitError:
		return "init error"
	case StatusAllocError:
		return "alloc error"
	case StatusInvalidArg:
		return "invalid argument"
	case StatusSoftError:
		return "soft error"
	case StatusTearOff:
		return "tear off"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error wraps a Status so callers can use errors.As to recover the
// status kind from a returned error (§7).
type Error struct {
	Status Status
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hf14a: %s: %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("hf14a: %s: %s", e.Op, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }
