// Package transport provides the demo I/O bindings used by the
// cmd/hf14a-sniff and cmd/hf14a-emulate binaries: a serial link to the
// RF front-end, and an optional GPIO trigger line for the sniffer
// (§4.9, §6). Neither binding is part of the engine itself.
package transport

import (
	"errors"
	"io"
	"runtime"

	"github.com/tarm/serial"
)

// defaultBaud matches the RF front-end's fixed UART rate.
const defaultBaud = 115200

// OpenSerial opens a serial connection to the RF front-end. If dev is
// empty, it tries the platform's conventional device names in turn.
func OpenSerial(dev string) (io.ReadWriteCloser, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3", "COM4")
		case "darwin":
			devices = append(devices, "/dev/tty.usbmodem0", "/dev/tty.usbmodem1")
		default:
			devices = append(devices, "/dev/ttyACM0", "/dev/ttyUSB0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("transport: no device specified")
	}
	var firstErr error
	for _, d := range devices {
		cfg := &serial.Config{Name: d, Baud: defaultBaud}
		s, err := serial.OpenPort(cfg)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
