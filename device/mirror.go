// Package device implements the polled-device lifecycle: a mirror of a single
// remote unit's holding registers, periodically refreshed and pushed to
// per-mapping sinks, independent of the batching poller package.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarnhelm/gomodbus"
	"github.com/tarnhelm/gomodbus/gate"
	"github.com/tarnhelm/gomodbus/packet"
)

// minPollInterval is the floor enforced between two successive polls of a Mirror,
// regardless of how short a period the caller configures.
const minPollInterval = 100 * time.Millisecond

// ModbusClient is the subset of Client/SerialClient that Mirror depends on.
type ModbusClient interface {
	Do(ctx context.Context, req packet.Request) (packet.Response, error)
	Gate() *gate.Gate
}

// SourceFormat selects how a Mapping's raw registers are interpreted before
// Scale/Offset are applied.
type SourceFormat uint8

const (
	// LittleEndianInteger interprets registers as a low-word-first integer.
	LittleEndianInteger SourceFormat = iota
	// BigEndianInteger interprets registers as a high-word-first integer.
	BigEndianInteger
	// LittleEndianFloat interprets registers as a low-word-first IEEE-754 float.
	LittleEndianFloat
	// BigEndianFloat interprets registers as a high-word-first IEEE-754 float.
	BigEndianFloat
)

// Mapping binds a register range on the mirrored unit to a sink. Decode, when
// set, takes precedence over SourceFormat/Scale/Offset and receives the raw
// registers unconverted. Without Decode, Count of 1/2/4 picks a 16/32/64-bit
// width, SourceFormat picks the byte/word order and integer-vs-float
// interpretation, and for integers the value is scaled then offset
// (`value*Scale + Offset`); floats are never scaled when Decode is set.
type Mapping struct {
	Start uint16
	Count uint16

	Decode func(registers []uint16) (any, error)
	Sink   func(value any, err error)

	Scale        float64
	Offset       float64
	SourceFormat SourceFormat
}

// Mirror polls a single remote unit's holding registers on a timer and
// delivers decoded values to each registered Mapping's Sink.
type Mirror struct {
	client ModbusClient
	unitID uint8
	period time.Duration

	newReadRequest  func(unitID uint8, start uint16, quantity uint16) (packet.Request, error)
	newWriteRequest func(unitID uint8, start uint16, data []byte) (packet.Request, error)

	// mappingGate serialises Register/WriteHoldingRegister calls against the
	// poll loop - a distinct single-permit gate from the client's own I/O gate.
	mappingGate *gate.Gate
	mu          sync.Mutex
	mappings    []Mapping

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMirror constructs a Mirror for unitID, polling at most once per period
// (floored at 100ms). protocol selects which Modbus request flavor
// (TCP framing or RTU framing) is built for each poll; pass modbus.ProtocolRTU
// when client is a *modbus.SerialClient.
func NewMirror(client ModbusClient, unitID uint8, period time.Duration, protocol modbus.ProtocolType) *Mirror {
	if period < minPollInterval {
		period = minPollInterval
	}
	newReadRequest := func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
		return packet.NewReadHoldingRegistersRequestTCP(unitID, start, quantity)
	}
	newWriteRequest := func(unitID uint8, start uint16, data []byte) (packet.Request, error) {
		return packet.NewWriteMultipleRegistersRequestTCP(unitID, start, data)
	}
	if protocol == modbus.ProtocolRTU {
		newReadRequest = func(unitID uint8, start uint16, quantity uint16) (packet.Request, error) {
			return packet.NewReadHoldingRegistersRequestRTU(unitID, start, quantity)
		}
		newWriteRequest = func(unitID uint8, start uint16, data []byte) (packet.Request, error) {
			return packet.NewWriteMultipleRegistersRequestRTU(unitID, start, data)
		}
	}
	return &Mirror{
		client:          client,
		unitID:          unitID,
		period:          period,
		newReadRequest:  newReadRequest,
		newWriteRequest: newWriteRequest,
		mappingGate:     gate.New(),
	}
}

// ErrMappingCountUnsupported is returned when a Mapping without a custom
// Decode func declares a register Count other than 1, 2 or 4.
var ErrMappingCountUnsupported = errors.New("mapping register count must be 1, 2 or 4 unless Decode is set")

// Register adds mapping to the set polled on every tick, in registration order.
func (m *Mirror) Register(mapping Mapping) error {
	if mapping.Decode == nil {
		switch mapping.Count {
		case 1, 2, 4:
		default:
			return ErrMappingCountUnsupported
		}
	}
	if err := m.mappingGate.Acquire(context.Background()); err != nil {
		return err
	}
	defer m.mappingGate.Release()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, mapping)
	return nil
}

// StartPolling starts the polling timer. It returns once the first tick has
// been scheduled; polling itself continues on a background goroutine until
// ctx is done or StopPolling is called.
func (m *Mirror) StartPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		timer := time.NewTimer(m.period)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case start := <-timer.C:
				m.pollOnce(ctx)
				elapsed := time.Since(start)
				next := m.period - elapsed
				if next < minPollInterval {
					next = minPollInterval
				}
				timer.Reset(next)
			}
		}
	}()
}

// StopPolling stops the polling timer. It blocks until the in-flight tick,
// if any, has finished.
func (m *Mirror) StopPolling() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Mirror) pollOnce(ctx context.Context) {
	if err := m.mappingGate.Acquire(ctx); err != nil {
		return
	}
	mappings := append([]Mapping(nil), m.snapshotMappings()...)
	m.mappingGate.Release()

	for _, mapping := range mappings {
		value, err := m.readMapping(ctx, mapping)
		if mapping.Sink != nil {
			mapping.Sink(value, err)
		}
		if err != nil {
			return // abort rest of this tick, mappings stay registered for the next one
		}
	}
}

func (m *Mirror) snapshotMappings() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings
}

func (m *Mirror) readMapping(ctx context.Context, mapping Mapping) (any, error) {
	req, err := m.newReadRequest(m.unitID, mapping.Start, mapping.Count)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := registerResponseData(resp)
	if err != nil {
		return nil, err
	}
	registers, err := packet.NewRegisters(data, mapping.Start)
	if err != nil {
		return nil, err
	}
	if mapping.Decode != nil {
		values := make([]uint16, mapping.Count)
		for i := range values {
			v, err := registers.Uint16(mapping.Start + uint16(i))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return mapping.Decode(values)
	}
	return decodeMapping(registers, mapping)
}

func decodeMapping(registers *packet.Registers, mapping Mapping) (any, error) {
	lowWordFirst := mapping.SourceFormat == LittleEndianInteger || mapping.SourceFormat == LittleEndianFloat
	byteOrder := packet.BigEndianHighWordFirst
	if lowWordFirst {
		byteOrder = packet.BigEndianLowWordFirst
	}

	isFloat := mapping.SourceFormat == LittleEndianFloat || mapping.SourceFormat == BigEndianFloat
	switch mapping.Count {
	case 1:
		v, err := registers.Uint16(mapping.Start)
		if err != nil {
			return nil, err
		}
		return applyScale(float64(v), mapping), nil
	case 2:
		if isFloat {
			v, err := registers.Float32WithByteOrder(mapping.Start, byteOrder)
			if err != nil {
				return nil, err
			}
			return float64(v), nil
		}
		v, err := registers.Uint32WithByteOrder(mapping.Start, byteOrder)
		if err != nil {
			return nil, err
		}
		return applyScale(float64(v), mapping), nil
	case 4:
		if isFloat {
			v, err := registers.Float64WithByteOrder(mapping.Start, byteOrder)
			if err != nil {
				return nil, err
			}
			return v, nil
		}
		v, err := registers.Uint64WithByteOrder(mapping.Start, byteOrder)
		if err != nil {
			return nil, err
		}
		return applyScale(float64(v), mapping), nil
	default:
		return nil, ErrMappingCountUnsupported
	}
}

func applyScale(v float64, mapping Mapping) float64 {
	scale := mapping.Scale
	if scale == 0 {
		scale = 1
	}
	return v*scale + mapping.Offset
}

// WriteHoldingRegister writes values starting at start on the mirrored unit,
// going through the same client the poll loop uses.
func (m *Mirror) WriteHoldingRegister(ctx context.Context, start uint16, values []byte) error {
	if err := m.mappingGate.Acquire(ctx); err != nil {
		return err
	}
	defer m.mappingGate.Release()

	req, err := m.newWriteRequest(m.unitID, start, values)
	if err != nil {
		return fmt.Errorf("building write request failed: %w", err)
	}
	_, err = m.client.Do(ctx, req)
	return err
}

// registerResponseData extracts raw register bytes from a known register-response type.
func registerResponseData(resp packet.Response) ([]byte, error) {
	switch r := resp.(type) {
	case packet.ReadHoldingRegistersResponseTCP:
		return r.Data, nil
	case *packet.ReadHoldingRegistersResponseTCP:
		return r.Data, nil
	case packet.ReadHoldingRegistersResponseRTU:
		return r.Data, nil
	case *packet.ReadHoldingRegistersResponseRTU:
		return r.Data, nil
	case packet.ReadInputRegistersResponseTCP:
		return r.Data, nil
	case *packet.ReadInputRegistersResponseTCP:
		return r.Data, nil
	case packet.ReadInputRegistersResponseRTU:
		return r.Data, nil
	case *packet.ReadInputRegistersResponseRTU:
		return r.Data, nil
	default:
		return nil, fmt.Errorf("response type %T does not carry register data", resp)
	}
}
