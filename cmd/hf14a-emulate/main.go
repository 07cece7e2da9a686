// Command hf14a-emulate impersonates a single tag profile over a serial
// link to an RF front-end, demonstrating the emulator package wired to
// the transport bindings (§4.5, §4.9).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"

	"github.com/hf14a/engine"
	"github.com/hf14a/engine/emulator"
	"github.com/hf14a/engine/transport"
)

var profileNames = map[string]hf14a.TagProfile{
	"ul":     hf14a.ProfileUltralight,
	"ulc":    hf14a.ProfileUltralightC,
	"ntag215": hf14a.ProfileNTAG215,
	"mf1k":   hf14a.ProfileMifareClassic1k,
	"mf4k":   hf14a.ProfileMifareClassic4k,
	"desfire": hf14a.ProfileDESFire,
}

func main() {
	dev := flag.String("dev", "", "serial device (autodetected if empty)")
	profileName := flag.String("profile", "ul", "tag profile to emulate: ul, ulc, ntag215, mf1k, mf4k, desfire")
	uidHex := flag.String("uid", "04112233445566", "hex-encoded UID to present")
	flag.Parse()

	profile, ok := profileNames[*profileName]
	if !ok {
		log.Fatalf("hf14a-emulate: unknown profile %q", *profileName)
	}
	uid, err := parseHexUID(*uidHex)
	if err != nil {
		log.Fatalf("hf14a-emulate: %v", err)
	}

	bus, err := transport.OpenSerial(*dev)
	if err != nil {
		log.Fatalf("hf14a-emulate: %v", err)
	}
	defer bus.Close()

	e := emulator.New(profile, uid)
	r := bufio.NewReaderSize(bus, 4096)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if err != nil {
			log.Fatalf("hf14a-emulate: read: %v", err)
		}
		req := hf14a.NewFrame(append([]byte(nil), buf[:n]...))
		resp, err := e.Handle(req)
		if err != nil {
			if code, ok := emulator.NackCode(err); ok {
				if _, err := bus.Write([]byte{code}); err != nil {
					log.Fatalf("hf14a-emulate: write: %v", err)
				}
			}
			continue
		}
		if resp == nil {
			continue
		}
		if _, err := bus.Write(resp.Bytes); err != nil {
			log.Fatalf("hf14a-emulate: write: %v", err)
		}
	}
}

func parseHexUID(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("uid: odd length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("uid: %w", err)
		}
		out[i] = b
	}
	return out, nil
}
