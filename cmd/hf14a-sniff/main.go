// Command hf14a-sniff streams samples from an RF front-end over a
// serial link and prints decoded reader/tag frames, demonstrating the
// sniffer package wired to the transport bindings (§4.6, §4.9).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hf14a/engine/sniffer"
	"github.com/hf14a/engine/transport"
)

func main() {
	dev := flag.String("dev", "", "serial device (autodetected if empty)")
	trigger := flag.String("trigger", "", "GPIO trigger pin name, e.g. GPIO17")
	flag.Parse()

	bus, err := transport.OpenSerial(*dev)
	if err != nil {
		log.Fatalf("hf14a-sniff: %v", err)
	}
	defer bus.Close()

	s := sniffer.New()
	if *trigger != "" {
		pin, err := transport.OpenTrigger(*trigger)
		if err != nil {
			log.Fatalf("hf14a-sniff: %v", err)
		}
		s.ArmTrigger(sniffer.TriggerEitherFrame)
		go func() {
			pin.WaitForEdge()
			fmt.Fprintln(os.Stderr, "hf14a-sniff: external trigger fired")
		}()
	}

	buf := make([]byte, 4096)
	var ts uint32
	for {
		n, err := bus.Read(buf)
		if err != nil {
			log.Fatalf("hf14a-sniff: read: %v", err)
		}
		for _, b := range buf[:n] {
			if err := s.Feed(b>>4, ts); err != nil {
				log.Printf("hf14a-sniff: %v", err)
			}
			ts++
			if err := s.Feed(b&0xf, ts); err != nil {
				log.Printf("hf14a-sniff: %v", err)
			}
			ts++
		}
		for _, ev := range s.Events {
			dir := "tag  "
			if ev.FromReader {
				dir = "reader"
			}
			fmt.Printf("%s %s\n", dir, ev.Frame)
		}
		s.Events = s.Events[:0]
	}
}
