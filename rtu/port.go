// Package rtu provides the RS-485/RS-232 serial transport collaborator for
// Modbus RTU: a serial port wrapper that asserts an optional transmit-enable
// GPIO pin around each write, the way RS-485 half-duplex transceivers require.
package rtu

import (
	"io"

	"github.com/tarm/serial"
)

// DigitalOut is the minimal GPIO pin surface Port needs to drive an RS-485
// transceiver's transmit-enable line. *rpio.Pin (github.com/stianeikeland/go-rpio/v4)
// satisfies this already; tests can supply a fake.
type DigitalOut interface {
	High()
	Low()
}

// Flusher is implemented by serial ports that can discard unread/unwritten
// buffered data (github.com/tarm/serial.Port does).
type Flusher interface {
	Flush() error
}

// Port wraps an io.ReadWriteCloser serial connection and drives an optional
// TxEnable pin around writes, so half-duplex RS-485 lines turn the line
// around correctly between request and response.
type Port struct {
	conn     io.ReadWriteCloser
	TxEnable DigitalOut
	// PostWriteDrain, when set, runs after the frame bytes are written and before
	// TxEnable is deasserted - it is the hook for line-turnaround timing (e.g. a
	// short sleep to let the last UART bit shift out before releasing the bus).
	PostWriteDrain func()
}

// NewPort wraps conn, optionally driving txEnable around each Write. txEnable
// may be nil for full-duplex RS-232 links that need no transmit-enable pin.
func NewPort(conn io.ReadWriteCloser, txEnable DigitalOut) *Port {
	return &Port{conn: conn, TxEnable: txEnable}
}

// OpenSerialPort opens a github.com/tarm/serial port with cfg and wraps it in
// a Port, optionally driving txEnable around writes.
func OpenSerialPort(cfg *serial.Config, txEnable DigitalOut) (*Port, error) {
	sp, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return NewPort(sp, txEnable), nil
}

// Write asserts TxEnable high, writes data, runs PostWriteDrain, then lowers
// TxEnable again.
func (p *Port) Write(data []byte) (int, error) {
	if p.TxEnable != nil {
		p.TxEnable.High()
		defer p.TxEnable.Low()
	}
	n, err := p.conn.Write(data)
	if p.PostWriteDrain != nil {
		p.PostWriteDrain()
	}
	return n, err
}

// Read reads from the underlying connection.
func (p *Port) Read(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// Close closes the underlying connection.
func (p *Port) Close() error {
	return p.conn.Close()
}

// Flush discards unread/unwritten buffered data if the underlying connection
// supports it; otherwise it is a no-op.
func (p *Port) Flush() error {
	f, ok := p.conn.(Flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}
