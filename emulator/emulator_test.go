package emulator

import (
	"bytes"
	"testing"

	"github.com/hf14a/engine"
	"github.com/hf14a/engine/codec/manchester"
	"github.com/hf14a/engine/framer"
)

func TestREQAReturnsATQA(t *testing.T) {
	e := New(hf14a.ProfileUltralight, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	resp, err := e.Handle(hf14a.NewShortFrame(cmdREQA))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := hf14a.ProfileUltralight.Defaults().ATQA
	if !bytes.Equal(resp.Bytes, want[:]) {
		t.Fatalf("got %x want %x", resp.Bytes, want)
	}
}

func TestFullSelectSequenceUltralight(t *testing.T) {
	uid := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	e := New(hf14a.ProfileUltralight, uid)

	if _, err := e.Handle(hf14a.NewShortFrame(cmdREQA)); err != nil {
		t.Fatalf("REQA: %v", err)
	}

	// Cascade level 1.
	resp, err := e.Handle(hf14a.NewFrame([]byte{0x93, 0x20}))
	if err != nil {
		t.Fatalf("CL1 anticol: %v", err)
	}
	if resp.Bytes[0] != 0x88 {
		t.Fatalf("CL1 cascade tag = %x, want 0x88", resp.Bytes[0])
	}
	selReq := append([]byte{0x93, 0x70}, resp.Bytes...)
	sel, err := e.Handle(framer.Append(hf14a.NewFrame(selReq)))
	if err != nil {
		t.Fatalf("CL1 select: %v", err)
	}
	if err := framer.Verify(sel); err != nil {
		t.Fatalf("verify SAK: %v", err)
	}
	if framer.Strip(sel).Bytes[0] != 0x04 { // cascade bit still set.
		t.Fatalf("SAK = %x, want cascade bit set", sel.Bytes[0])
	}

	// Cascade level 2.
	resp2, err := e.Handle(hf14a.NewFrame([]byte{0x95, 0x20}))
	if err != nil {
		t.Fatalf("CL2 anticol: %v", err)
	}
	selReq2 := append([]byte{0x95, 0x70}, resp2.Bytes...)
	sel2, err := e.Handle(framer.Append(hf14a.NewFrame(selReq2)))
	if err != nil {
		t.Fatalf("CL2 select: %v", err)
	}
	sak := framer.Strip(sel2).Bytes[0]
	if sak != hf14a.ProfileUltralight.Defaults().SAK {
		t.Fatalf("sak = %x, want %x", sak, hf14a.ProfileUltralight.Defaults().SAK)
	}
}

func TestReadWritePages(t *testing.T) {
	e := New(hf14a.ProfileUltralight, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := e.Handle(hf14a.NewFrame(append([]byte{cmdWrite, 4}, data...))); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := e.Handle(hf14a.NewFrame([]byte{cmdRead, 4}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := framer.Strip(resp).Bytes
	if !bytes.Equal(got[:4], data) {
		t.Fatalf("got %x want %x", got[:4], data)
	}
}

func TestHLTAHalts(t *testing.T) {
	e := New(hf14a.ProfileUltralight, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	resp, err := e.Handle(framer.Append(hf14a.NewFrame([]byte{cmdHLTA, 0x00})))
	if err != nil {
		t.Fatalf("HLTA: %v", err)
	}
	if resp != nil {
		t.Fatalf("HLTA produced a response, want none")
	}
	if e.st != stateHalt {
		t.Fatalf("state = %v, want stateHalt", e.st)
	}
	// REQA does not wake a halted tag; only WUPA does (§4.5).
	if resp, err := e.Handle(hf14a.NewShortFrame(cmdREQA)); err != nil || resp != nil {
		t.Fatalf("REQA after HLTA produced a response")
	}
}

func TestRATSReturnsATSForISODEPProfile(t *testing.T) {
	e := New(hf14a.ProfileDESFire, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	resp, err := e.Handle(framer.Append(hf14a.NewFrame([]byte{cmdRATS, 0x80})))
	if err != nil {
		t.Fatalf("RATS: %v", err)
	}
	if !bytes.Equal(framer.Strip(resp).Bytes, hf14a.ProfileDESFire.Defaults().ATS) {
		t.Fatalf("got %x want %x", resp.Bytes, hf14a.ProfileDESFire.Defaults().ATS)
	}
	if e.st != stateISODEP {
		t.Fatalf("state = %v, want stateISODEP", e.st)
	}
}

func TestPwdAuthSuccess(t *testing.T) {
	e := New(hf14a.ProfileNTAG215, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	pwdPage := len(e.mem) - 2
	copy(e.mem[pwdPage], []byte{0xAA, 0xBB, 0xCC, 0xDD})

	if _, err := e.Handle(hf14a.NewFrame([]byte{cmdPwdAuth, 0xAA, 0xBB, 0xCC, 0xDD})); err != nil {
		t.Fatalf("pwdAuth: %v", err)
	}
	if e.pwdAuthFails != 0 {
		t.Fatalf("pwdAuthFails = %d, want 0", e.pwdAuthFails)
	}
}

func TestPwdAuthFailureCountsAndNACKs(t *testing.T) {
	e := New(hf14a.ProfileNTAG215, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	_, err := e.Handle(hf14a.NewFrame([]byte{cmdPwdAuth, 0x11, 0x22, 0x33, 0x44}))
	if err != errNAK {
		t.Fatalf("err = %v, want errNAK", err)
	}
	if e.pwdAuthFails != 1 {
		t.Fatalf("pwdAuthFails = %d, want 1", e.pwdAuthFails)
	}
	if code, ok := NackCode(err); !ok || code != 0x1 {
		t.Fatalf("NackCode = %x, %v", code, ok)
	}
}

func TestClassicAuthThenRead(t *testing.T) {
	e := New(hf14a.ProfileMifareClassic1k, []byte{0x11, 0x22, 0x33, 0x44})
	e.st = stateActive
	if _, err := e.Handle(hf14a.NewFrame([]byte{cmdAuth, 0x04})); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if len(e.Nonces) != 1 {
		t.Fatalf("nonces = %d, want 1", len(e.Nonces))
	}
	resp, err := e.Handle(hf14a.NewFrame([]byte{cmdRead, 0x04}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(framer.Strip(resp).Bytes) != 16 {
		t.Fatalf("block len = %d, want 16", len(framer.Strip(resp).Bytes))
	}
}

func TestClassicReadWithoutAuthFails(t *testing.T) {
	e := New(hf14a.ProfileMifareClassic1k, []byte{0x11, 0x22, 0x33, 0x44})
	e.st = stateActive
	if _, err := e.Handle(hf14a.NewFrame([]byte{cmdRead, 0x04})); err != errNotAuthed {
		t.Fatalf("err = %v, want errNotAuthed", err)
	}
}

func TestCompWriteCommitsPartTwoPayload(t *testing.T) {
	e := New(hf14a.ProfileUltralight, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive

	if _, err := e.Handle(hf14a.NewFrame([]byte{cmdCompWrite, 4})); err != nil {
		t.Fatalf("comp_write part 1: %v", err)
	}
	if !e.compWritePending {
		t.Fatalf("compWritePending = false after part 1")
	}

	part2 := make([]byte, 16)
	copy(part2, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if _, err := e.Handle(hf14a.NewFrame(part2)); err != nil {
		t.Fatalf("comp_write part 2: %v", err)
	}
	if e.compWritePending {
		t.Fatalf("compWritePending = true after part 2")
	}
	if got := e.mem[4]; !bytes.Equal(got, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("page 4 = %x, want DEADBEEF", got)
	}
}

func TestReadOutOfRangeReturnsNackIV(t *testing.T) {
	e := New(hf14a.ProfileUltralight, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	_, err := e.Handle(hf14a.NewFrame([]byte{cmdRead, byte(len(e.mem) + 10)}))
	if err != errInvalidArg {
		t.Fatalf("err = %v, want errInvalidArg", err)
	}
	if code, ok := NackCode(err); !ok || code != manchester.NackIV {
		t.Fatalf("NackCode = %x, %v, want NackIV", code, ok)
	}
}

func TestIncrCounterOverflowReturnsNackNA(t *testing.T) {
	e := New(hf14a.ProfileNTAG215, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	e.counters[0] = 0xFFFFFF

	_, err := e.Handle(hf14a.NewFrame([]byte{cmdIncrCnt, 0, 1, 0, 0}))
	if err != errCounterOverflow {
		t.Fatalf("err = %v, want errCounterOverflow", err)
	}
	if code, ok := NackCode(err); !ok || code != manchester.NackNA {
		t.Fatalf("NackCode = %x, %v, want NackNA", code, ok)
	}
}

func TestReadCntReturnsCRCFramedCounter(t *testing.T) {
	e := New(hf14a.ProfileNTAG215, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	e.st = stateActive
	e.counters[1] = 0x010203

	resp, err := e.Handle(hf14a.NewFrame([]byte{cmdReadCnt, 1}))
	if err != nil {
		t.Fatalf("read_cnt: %v", err)
	}
	if err := framer.Verify(resp); err != nil {
		t.Fatalf("verify CRC: %v", err)
	}
	got := framer.Strip(resp).Bytes
	if !bytes.Equal(got, []byte{0x03, 0x02, 0x01}) {
		t.Fatalf("got %x want 030201", got)
	}
}
