package transport

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// TriggerPin wraps a single GPIO line used as the sniffer's external
// capture trigger input (§6 `RequestTrigger`).
type TriggerPin struct {
	pin gpio.PinIn
}

// OpenTrigger initialises the periph host drivers and binds name (e.g.
// "GPIO17") as a pull-down input that triggers on a rising edge.
func OpenTrigger(name string) (*TriggerPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("transport: trigger init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("transport: no such GPIO pin %q", name)
	}
	if err := p.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("transport: trigger configure: %w", err)
	}
	return &TriggerPin{pin: p}, nil
}

// WaitForEdge blocks until the trigger pin sees its configured edge.
func (t *TriggerPin) WaitForEdge() bool {
	return t.pin.WaitForEdge(-1)
}

// Read reports the trigger pin's current logic level.
func (t *TriggerPin) Read() gpio.Level {
	return t.pin.Read()
}
