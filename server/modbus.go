package server

import (
	"bytes"
	"context"
	"errors"
	"github.com/tarnhelm/gomodbus/packet"
)

// ModbusTCPAssembler assembles read data into complete packets and calls ModbusHandler with assembled packet
type ModbusTCPAssembler struct {
	Handler  ModbusHandler
	received bytes.Buffer
}

// ReceiveRead assembles read byte until full TCP packet is formed or return an error when received data does not look like TCP packet
func (m *ModbusTCPAssembler) ReceiveRead(ctx context.Context, received []byte, bytesRead int) (response []byte, closeConnection bool) {
	m.received.Write(received)

	n, err := packet.LooksLikeModbusTCP(m.received.Bytes(), false)
	if err == packet.ErrTCPDataTooShort {
		return nil, false // wait for more data to arrive
	} else if err != nil {
		return asErrorParseTCPBytes(err), false
	}

	p, err := packet.ParseTCPRequest(m.received.Next(n))
	if err != nil {
		return asErrorParseTCPBytes(err), false
	}

	resp, err := m.Handler.Handle(ctx, p)
	if err != nil {
		return asErrorParseTCPBytes(err), false
	}

	return resp.Bytes(), false
}

// asErrorParseTCPBytes converts an error returned by packet parsing or a ModbusHandler into the wire bytes of
// a Modbus exception response. Errors that are not already a *packet.ErrorParseTCP are wrapped as ErrServerFailure.
func asErrorParseTCPBytes(err error) []byte {
	var target *packet.ErrorParseTCP
	if errors.As(err, &target) {
		return target.Bytes()
	}
	return packet.NewErrorParseTCP(packet.ErrUnknown, err.Error()).Bytes()
}
