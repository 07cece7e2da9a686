package timing

import "testing"

func TestParseATSTimingDefaults(t *testing.T) {
	// T0 with no interface bytes present at all.
	ats := []byte{0x01, 0x00}
	got := ParseATSTiming(ats)
	want := ATSTiming{FWT: fwt(4), SFGT: sfgt(0)}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseATSTimingWithTB(t *testing.T) {
	// T0 = 0x20 (TB present, no TA/TC), TB = 0x78 -> FWI=7, SFGI=8.
	ats := []byte{0x02, 0x20, 0x78}
	got := ParseATSTiming(ats)
	want := ATSTiming{FWT: fwt(7), SFGT: sfgt(8)}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseATSTimingWithTAAndTB(t *testing.T) {
	// T0 = 0x30 (TA and TB present), TA = 0x80, TB = 0x00 -> FWI=0, SFGI=0.
	ats := []byte{0x03, 0x30, 0x80, 0x00}
	got := ParseATSTiming(ats)
	want := ATSTiming{FWT: fwt(0), SFGT: sfgt(0)}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

type fakeClock struct {
	ticks []uint32
	i     int
}

func (f *fakeClock) NowSSP() uint32 {
	t := f.ticks[f.i]
	if f.i < len(f.ticks)-1 {
		f.i++
	}
	return t
}

func TestControllerAlignWaitsForBoundary(t *testing.T) {
	clock := &fakeClock{ticks: []uint32{10, 20, 30, 50}}
	c := NewController(clock)
	c.NextTransferTime = 40
	got := c.Align()
	if got != 50 {
		t.Fatalf("Align returned %d, want 50", got)
	}
}

func TestControllerRequestGuard(t *testing.T) {
	clock := &fakeClock{ticks: []uint32{0}}
	c := NewController(clock)
	c.RequestGuard(1000)
	if c.NextTransferTime != 1000+RequestGuardTime {
		t.Fatalf("NextTransferTime = %d, want %d", c.NextTransferTime, 1000+RequestGuardTime)
	}
}

func TestControllerRequestGuardDoesNotRegress(t *testing.T) {
	clock := &fakeClock{ticks: []uint32{0}}
	c := NewController(clock)
	c.NextTransferTime = 1_000_000
	c.RequestGuard(1000)
	if c.NextTransferTime != 1_000_000 {
		t.Fatalf("NextTransferTime regressed to %d", c.NextTransferTime)
	}
}
