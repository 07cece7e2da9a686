// Package timing implements the sub-carrier-cycle timing controller
// (§4.3): the reader-to-tag guard times, the frame delay time, and ATS
// frame-waiting-time/start-up-frame-guard-time derivation.
package timing

// Fixed timing constants expressed in ssp units (sub-carrier cycles / 16,
// §3 glossary), following the rounding rule "round up, then add one unit
// of margin" used throughout §4.3.
const (
	// RequestGuardTime is the minimum time the reader must wait after the
	// end of a previous exchange before issuing REQA/WUPA: ceil(7000/16)+1 = 439.
	RequestGuardTime uint32 = 439

	// FrameDelayTimePICCToPCD is the minimum delay the reader must honour
	// between the end of a tag response and its own next transmission:
	// ceil(1172/16)+1 = 75.
	FrameDelayTimePICCToPCD uint32 = 75
)

// fwtTable maps an ATS TB(1) FWI nibble (0..14) to its frame-waiting time
// in ssp units: FWT = (256 * 16 / 16) * 2^FWI, i.e. 256 * 16 * 2^FWI
// carrier cycles converted to ssp units (§4.3).
func fwt(fwi byte) uint32 {
	if fwi > 14 {
		fwi = 14
	}
	return 256 << uint(fwi)
}

// sfgt maps an ATS TB(1) SFGI nibble (0..14) to its start-up frame guard
// time in ssp units: SFGT = (256/16) * 2^SFGI, 0 for SFGI == 0 (§4.3).
func sfgt(sfgi byte) uint32 {
	if sfgi == 0 {
		return 0
	}
	if sfgi > 14 {
		sfgi = 14
	}
	return (256 << uint(sfgi)) / 16
}

// ATSTiming holds the frame-waiting and start-up frame guard times
// derived from an ATS's optional TB(1) interface byte (§4.3).
type ATSTiming struct {
	FWT  uint32
	SFGT uint32
}

// ParseATSTiming derives ATSTiming from a raw ATS byte sequence,
// following the T0/TA(1)/TB(1)/TC(1) presence bits of ISO/IEC 14443-4.
// Tags that omit TB(1) get the protocol default FWI=4, SFGI=0.
func ParseATSTiming(ats []byte) ATSTiming {
	const (
		defaultFWI  = 4
		defaultSFGI = 0
	)
	if len(ats) < 2 {
		return ATSTiming{FWT: fwt(defaultFWI), SFGT: sfgt(defaultSFGI)}
	}
	t0 := ats[1]
	idx := 2
	hasTA := t0&0x10 != 0
	hasTB := t0&0x20 != 0
	hasTC := t0&0x40 != 0
	if hasTA {
		idx++
	}
	fwi, sfgi := byte(defaultFWI), byte(defaultSFGI)
	if hasTB && idx < len(ats) {
		tb := ats[idx]
		fwi = (tb >> 4) & 0x0f
		sfgi = tb & 0x0f
		idx++
	}
	_ = hasTC
	return ATSTiming{FWT: fwt(fwi), SFGT: sfgt(sfgi)}
}

// Clock is the ssp-cycle counter shared with the rest of the engine
// (mirrors hf14a.Clock so timing does not import the root package;
// timing only needs the read side).
type Clock interface {
	NowSSP() uint32
}

// Controller tracks NextTransferTime, the earliest ssp tick at which the
// next reader-to-tag transmission may start (§4.3). It does not round to
// a carrier-cycle boundary or perform a separate fine alignment step.
type Controller struct {
	clock Clock

	// NextTransferTime is the earliest ssp tick at which the next
	// reader-to-tag transmission may start; updated after every
	// send/receive pair.
	NextTransferTime uint32
}

// NewController returns a Controller bound to clock with no prior
// transfer recorded.
func NewController(clock Clock) *Controller {
	return &Controller{clock: clock}
}

// Align blocks (by busy-polling the clock) until NowSSP reaches
// NextTransferTime, then returns the timestamp it fired at: the first
// clock reading at or after NextTransferTime, which may lie past it. No
// boundary rounding or fine alignment is applied.
func (c *Controller) Align() uint32 {
	for {
		now := c.clock.NowSSP()
		if now >= c.NextTransferTime {
			return now
		}
	}
}

// ScheduleAfter advances NextTransferTime to start+delay, the pattern
// used after sending a frame of a known ProxToAir duration or after
// observing FDT_PICC_PCD following a received response.
func (c *Controller) ScheduleAfter(start, delay uint32) {
	c.NextTransferTime = start + delay
}

// RequestGuard advances NextTransferTime to be at least RequestGuardTime
// after the end of the previous exchange, the rule applied before
// issuing REQA/WUPA (§4.3, §4.4 step 1).
func (c *Controller) RequestGuard(lastEnd uint32) {
	guard := lastEnd + RequestGuardTime
	if guard > c.NextTransferTime {
		c.NextTransferTime = guard
	}
}
