package modbus

import (
	"fmt"

	"github.com/tarnhelm/gomodbus/packet"
)

// legacyInputRegisterOffset is the 3xxxx convention offset for input registers,
// mirroring normalizeHoldingRegisterAddress's 4xxxx convention for holding registers.
const legacyInputRegisterOffset = 30001

// normalizeInputRegisterAddress subtracts the legacy 30001 offset when address is
// given in the 3xxxx convention. Same ambiguity caveat as normalizeHoldingRegisterAddress applies.
func normalizeInputRegisterAddress(address uint16) uint16 {
	if address >= legacyInputRegisterOffset {
		return address - legacyInputRegisterOffset
	}
	return address
}

// requestFactory builds the protocol-framed (TCP or RTU) request for each Client
// Engine operation, so Client and SerialClient can share one implementation of
// every typed operation and only differ in which factory they construct requests from.
type requestFactory struct {
	readHoldingRegisters   func(unitID uint8, start uint16, quantity uint16) (packet.Request, error)
	readInputRegisters     func(unitID uint8, start uint16, quantity uint16) (packet.Request, error)
	readCoils              func(unitID uint8, start uint16, quantity uint16) (packet.Request, error)
	writeSingleRegister    func(unitID uint8, address uint16, data []byte) (packet.Request, error)
	writeMultipleRegisters func(unitID uint8, start uint16, data []byte) (packet.Request, error)
	writeSingleCoil        func(unitID uint8, address uint16, state bool) (packet.Request, error)
	writeMultipleCoils     func(unitID uint8, start uint16, coils []bool) (packet.Request, error)
}

func tcpRequestFactory() requestFactory {
	return requestFactory{
		readHoldingRegisters: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadHoldingRegistersRequestTCP(unitID, start, quantity)
		},
		readInputRegisters: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadInputRegistersRequestTCP(unitID, start, quantity)
		},
		readCoils: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadCoilsRequestTCP(unitID, start, quantity)
		},
		writeSingleRegister: func(unitID uint8, address uint16, data []byte) (packet.Request, error) {
			return packet.NewWriteSingleRegisterRequestTCP(unitID, address, data)
		},
		writeMultipleRegisters: func(unitID uint8, start uint16, data []byte) (packet.Request, error) {
			return packet.NewWriteMultipleRegistersRequestTCP(unitID, start, data)
		},
		writeSingleCoil: func(unitID uint8, address uint16, state bool) (packet.Request, error) {
			return packet.NewWriteSingleCoilRequestTCP(unitID, address, state)
		},
		writeMultipleCoils: func(unitID uint8, start uint16, coils []bool) (packet.Request, error) {
			return packet.NewWriteMultipleCoilsRequestTCP(unitID, start, coils)
		},
	}
}

func rtuRequestFactory() requestFactory {
	return requestFactory{
		readHoldingRegisters: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadHoldingRegistersRequestRTU(unitID, start, quantity)
		},
		readInputRegisters: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadInputRegistersRequestRTU(unitID, start, quantity)
		},
		readCoils: func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadCoilsRequestRTU(unitID, start, quantity)
		},
		writeSingleRegister: func(unitID uint8, address uint16, data []byte) (packet.Request, error) {
			return packet.NewWriteSingleRegisterRequestRTU(unitID, address, data)
		},
		writeMultipleRegisters: func(unitID uint8, start uint16, data []byte) (packet.Request, error) {
			return packet.NewWriteMultipleRegistersRequestRTU(unitID, start, data)
		},
		writeSingleCoil: func(unitID uint8, address uint16, state bool) (packet.Request, error) {
			return packet.NewWriteSingleCoilRequestRTU(unitID, address, state)
		},
		writeMultipleCoils: func(unitID uint8, start uint16, coils []bool) (packet.Request, error) {
			return packet.NewWriteMultipleCoilsRequestRTU(unitID, start, coils)
		},
	}
}

// uint16SequenceFromRegisters extracts quantity consecutive uint16 values starting at
// start out of a register response's raw byte data.
func uint16SequenceFromRegisters(data []byte, start uint16, quantity uint16) ([]uint16, error) {
	registers, err := packet.NewRegisters(data, start)
	if err != nil {
		return nil, err
	}
	values := make([]uint16, quantity)
	for i := range values {
		v, err := registers.Uint16(start + uint16(i))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// coilsResponseData extracts raw coil bytes from a known coil-response type.
func coilsResponseData(resp packet.Response) ([]byte, error) {
	switch r := resp.(type) {
	case packet.ReadCoilsResponseTCP:
		return r.Data, nil
	case *packet.ReadCoilsResponseTCP:
		return r.Data, nil
	case packet.ReadCoilsResponseRTU:
		return r.Data, nil
	case *packet.ReadCoilsResponseRTU:
		return r.Data, nil
	default:
		return nil, fmt.Errorf("response type %T does not carry coil data", resp)
	}
}

// boolSequenceFromCoils extracts quantity consecutive coil states starting at start
// out of a read-coils response's raw byte data.
func boolSequenceFromCoils(data []byte, start uint16, quantity uint16) ([]bool, error) {
	coilsResp := packet.ReadCoilsResponse{Data: data}
	values := make([]bool, quantity)
	for i := range values {
		v, err := coilsResp.IsCoilSet(start, start+uint16(i))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// uint16ToRegisterBytes encodes a single register value as the big-endian 2-byte
// form the wire protocol requires.
func uint16ToRegisterBytes(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// uint16SliceToRegisterBytes encodes a sequence of register values as the big-endian
// wire form WriteMultipleRegisters expects.
func uint16SliceToRegisterBytes(values []uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		data[2*i] = byte(v >> 8)
		data[2*i+1] = byte(v)
	}
	return data
}
