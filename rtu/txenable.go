package rtu

import "github.com/stianeikeland/go-rpio/v4"

// OpenTxEnablePin opens the rpio GPIO chardev and configures pin as a
// low-asserted-by-default output, returning it as a DigitalOut ready to hand
// to NewPort/OpenSerialPort. Callers on non-Raspberry-Pi hosts, or in tests,
// should construct a Port with a nil or fake DigitalOut instead.
func OpenTxEnablePin(pin uint8) (rpio.Pin, error) {
	if err := rpio.Open(); err != nil {
		return 0, err
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return p, nil
}
