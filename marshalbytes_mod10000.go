package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tarnhelm/gomodbus/packet"
)

// Mod-10000 packs a large decimal value into consecutive registers, each
// holding one group of (up to) four decimal digits (0-9999), most-significant
// group first - a format some energy meters use instead of plain binary
// integers to avoid any byte/word order ambiguity over the wire.

// DecodeMod10000Uint48 decodes 3 consecutive registers (most-significant
// group first) into a value in the range 0-999999999999.
func DecodeMod10000Uint48(registers []uint16) (uint64, error) {
	return decodeMod10000(registers, 3)
}

// DecodeMod10000Uint64 decodes 4 consecutive registers (most-significant
// group first) into a value in the range 0-9999999999999999.
func DecodeMod10000Uint64(registers []uint16) (uint64, error) {
	return decodeMod10000(registers, 4)
}

func decodeMod10000(registers []uint16, want int) (uint64, error) {
	if len(registers) != want {
		return 0, fmt.Errorf("mod-10000 decode needs exactly %d registers, got %d", want, len(registers))
	}
	var v uint64
	for _, r := range registers {
		if r > 9999 {
			return 0, fmt.Errorf("mod-10000 register group out of range (0-9999): %d", r)
		}
		v = v*10000 + uint64(r)
	}
	return v, nil
}

// EncodeMod10000Uint48 encodes v (must fit in 3 groups of 4 decimal digits,
// i.e. be < 10000^3) into 3 registers, most-significant group first.
func EncodeMod10000Uint48(v uint64) ([]uint16, error) {
	return encodeMod10000(v, 3)
}

// EncodeMod10000Uint64 encodes v (must fit in 4 groups of 4 decimal digits,
// i.e. be < 10000^4) into 4 registers, most-significant group first.
func EncodeMod10000Uint64(v uint64) ([]uint16, error) {
	return encodeMod10000(v, 4)
}

func encodeMod10000(v uint64, groups int) ([]uint16, error) {
	limit := uint64(1)
	for i := 0; i < groups; i++ {
		limit *= 10000
	}
	if v >= limit {
		return nil, fmt.Errorf("value does not fit in %d mod-10000 register groups: %d", groups, v)
	}
	registers := make([]uint16, groups)
	for i := groups - 1; i >= 0; i-- {
		registers[i] = uint16(v % 10000)
		v /= 10000
	}
	return registers, nil
}

// extractMod10000 reads groups consecutive registers starting at address and
// decodes them as a mod-10000 value.
func extractMod10000(registers *packet.Registers, address uint16, groups int) (uint64, error) {
	values := make([]uint16, groups)
	for i := range values {
		v, err := registers.Uint16(address + uint16(i))
		if err != nil {
			return 0, err
		}
		values[i] = v
	}
	return decodeMod10000(values, groups)
}

// marshalFieldTypeMod10000 marshals value into groups registers (big endian,
// most-significant decimal group first) using the mod-10000 convention.
func marshalFieldTypeMod10000(dst []byte, value any, groups int) error {
	wantBytes := groups * 2
	if len(dst) < wantBytes {
		return fmt.Errorf("field type mod10000 requires at least %d bytes", wantBytes)
	}
	var tmp uint64
	switch v := value.(type) {
	case bool:
		if v {
			tmp = 1
		}
	case uint8:
		tmp = uint64(v)
	case int8:
		tmp = uint64(limitToPositive(v))
	case uint16:
		tmp = uint64(v)
	case int16:
		tmp = uint64(limitToPositive(v))
	case uint32:
		tmp = uint64(v)
	case int32:
		tmp = uint64(limitToPositive(v))
	case uint64:
		tmp = v
	case int64:
		tmp = uint64(limitToPositive(v))
	case int:
		tmp = uint64(limitToPositive(v))
	case uint:
		tmp = uint64(v)
	default:
		return errors.New("marshalFieldTypeMod10000: can not marshal unsupported type")
	}

	registers, err := encodeMod10000(tmp, groups)
	if err != nil {
		return err
	}
	for i, r := range registers {
		binary.BigEndian.PutUint16(dst[i*2:i*2+2], r)
	}
	return nil
}
