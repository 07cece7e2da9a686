package crypto1

import "testing"

func TestStateIsDeterministic(t *testing.T) {
	const key = 0x112233445566
	s1 := NewState(key)
	s2 := NewState(key)
	ins := []byte{0, 1, 1, 0, 1, 0, 0, 1, 1, 1}
	for i, in := range ins {
		b1 := s1.Bit(in, false)
		b2 := s2.Bit(in, false)
		if b1 != b2 {
			t.Fatalf("bit %d: %d != %d", i, b1, b2)
		}
	}
}

func TestWordDeterministic(t *testing.T) {
	const key = 0xFFEEDDCCBBAA
	s1 := NewState(key)
	s2 := NewState(key)
	if w1, w2 := s1.Word(0x12345678, false), s2.Word(0x12345678, false); w1 != w2 {
		t.Fatalf("%08x != %08x", w1, w2)
	}
}

func TestDifferentKeysDiverge(t *testing.T) {
	s1 := NewState(0x000000000001)
	s2 := NewState(0x000000000002)
	if s1.Word(0, false) == s2.Word(0, false) {
		t.Fatalf("distinct keys produced identical keystream")
	}
}

func TestPRNGSuccessorNeverZero(t *testing.T) {
	x := uint32(1)
	for i := 0; i < 1000; i++ {
		x = PRNGSuccessor(x, 1)
		if x == 0 {
			t.Fatalf("successor reached 0 after %d steps", i)
		}
	}
}

func TestPRNGSuccessorMultiStepMatchesSingleStep(t *testing.T) {
	x := uint32(0xACE1)
	single := x
	for i := 0; i < 17; i++ {
		single = PRNGSuccessor(single, 1)
	}
	multi := PRNGSuccessor(x, 17)
	if single != multi {
		t.Fatalf("single-step chain %04x != multi-step %04x", single, multi)
	}
}

func TestDistNtZeroDistance(t *testing.T) {
	if d := DistNt(0xACE1, 0xACE1); d != 0 {
		t.Fatalf("DistNt(x, x) = %d, want 0", d)
	}
}

func TestDistNtMatchesSuccessor(t *testing.T) {
	x := uint32(0xBEEF)
	for _, n := range []int{1, 5, 100, 1000} {
		y := PRNGSuccessor(x, n)
		if d := DistNt(x, y); d != n {
			t.Fatalf("DistNt(%x, %x) = %d, want %d", x, y, d, n)
		}
	}
}

func TestDistNtUnknownNonce(t *testing.T) {
	if d := DistNt(0, 1); d != InvalidDist {
		t.Fatalf("DistNt with all-zero nonce = %d, want %d", d, InvalidDist)
	}
}

func TestDistNtAntisymmetric(t *testing.T) {
	x := uint32(0xBEEF)
	for _, n := range []int{1, 5, 100, 1000} {
		y := PRNGSuccessor(x, n)
		if a, b := DistNt(x, y), DistNt(y, x); a != -b {
			t.Fatalf("DistNt(x,y)=%d, DistNt(y,x)=%d, want negatives of each other", a, b)
		}
	}
}
