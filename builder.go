package modbus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarnhelm/gomodbus/packet"
)

// ProtocolType indicates which wire protocol (TCP or RTU) a Field or BuilderRequest targets.
type ProtocolType uint8

const (
	// protocolAny means no specific protocol was set, used internally by splitter/Builder to detect defaults.
	protocolAny ProtocolType = 0
	// ProtocolTCP marks a Field/BuilderRequest as using Modbus TCP framing
	ProtocolTCP ProtocolType = 1
	// ProtocolRTU marks a Field/BuilderRequest as using Modbus RTU framing
	ProtocolRTU ProtocolType = 2
)

// UnmarshalJSON converts raw bytes from JSON to ProtocolType
func (p *ProtocolType) UnmarshalJSON(raw []byte) error {
	if len(raw) < 3 {
		return fmt.Errorf("unknown protocol value, given: '%s'", raw)
	}
	if raw[0] != '"' || raw[len(raw)-1] != '"' {
		return fmt.Errorf("unknown protocol value, given: '%s'", raw)
	}
	switch strings.ToLower(string(raw[1 : len(raw)-1])) {
	case "tcp":
		*p = ProtocolTCP
	case "rtu":
		*p = ProtocolRTU
	default:
		return fmt.Errorf("unknown protocol value, given: '%s'", raw)
	}
	return nil
}

// Duration is time.Duration that can be (un)marshalled from JSON as either a duration string ("1s") or
// a plain integer amount of nanoseconds.
type Duration time.Duration

// MarshalJSON converts Duration to JSON bytes
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON converts raw bytes from JSON to Duration
func (d *Duration) UnmarshalJSON(raw []byte) error {
	l := len(raw)
	if l < 3 {
		return fmt.Errorf("duration value too short, given: '%s'", raw)
	}
	if raw[0] == '"' {
		if raw[l-1] != '"' {
			return fmt.Errorf("duration value does not end with quote mark, given: '%s'", raw)
		}
		tmp, err := time.ParseDuration(string(raw[1 : l-1]))
		if err != nil {
			return fmt.Errorf("could not parse Duration from string, err: %w", err)
		}
		*d = Duration(tmp)
		return nil
	}
	tmp, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("could not parse Duration as int, err: %w", err)
	}
	*d = Duration(tmp)
	return nil
}

// BuilderDefaults are default values that NewRequestBuilderWithConfig applies to every Field added to the
// Builder that does not already set them.
type BuilderDefaults struct {
	ServerAddress string
	FunctionCode  uint8
	UnitID        uint8
	Protocol      ProtocolType
	Interval      Duration
}

// Builder helps to group extractable field values of different types into modbus requests with minimal amount of separate requests produced
type Builder struct {
	config BuilderDefaults
	fields Fields
}

// NewRequestBuilder creates Builder with given server address and unit ID as defaults for fields added to it
func NewRequestBuilder(address string, unitID uint8) *Builder {
	return NewRequestBuilderWithConfig(BuilderDefaults{
		ServerAddress: address,
		UnitID:        unitID,
	})
}

// NewRequestBuilderWithConfig creates Builder with given defaults for fields added to it
func NewRequestBuilderWithConfig(cfg BuilderDefaults) *Builder {
	return &Builder{config: cfg}
}

// withDefaults fills in zero-valued attributes of field from Builder's configured defaults
func (b *Builder) withDefaults(field Field) Field {
	if field.ServerAddress == "" {
		field.ServerAddress = b.config.ServerAddress
	}
	if field.FunctionCode == 0 {
		field.FunctionCode = b.config.FunctionCode
	}
	if field.UnitID == 0 {
		field.UnitID = b.config.UnitID
	}
	if field.Protocol == protocolAny {
		field.Protocol = b.config.Protocol
	}
	if field.RequestInterval == 0 {
		field.RequestInterval = b.config.Interval
	}
	return field
}

// AddField adds field into Builder, filling in its unset (zero) attributes from Builder's defaults
func (b *Builder) AddField(field Field) *Builder {
	b.fields = append(b.fields, b.withDefaults(field))
	return b
}

// AddAll adds fields into Builder, filling in their unset (zero) attributes from Builder's defaults
func (b *Builder) AddAll(fields Fields) *Builder {
	if b.fields == nil {
		b.fields = Fields{}
	}
	for _, f := range fields {
		b.fields = append(b.fields, b.withDefaults(f))
	}
	return b
}

// Split groups added fields into modbus requests by server+unitID+protocol+function code+interval, splitting
// into as few requests as possible while respecting each server's max quantity per request and invalid address ranges.
func (b *Builder) Split() ([]BuilderRequest, error) {
	return split(b.fields, 0, protocolAny)
}

// Build groups added fields into the minimal set of wire-ready requests, same as Split,
// but returns the plain packet.Request values rather than the field-carrying BuilderRequest
// wrapper, for callers that only need to dispatch the requests (e.g. via Client.Do) and
// have no use for BuilderRequest's field-extraction metadata.
func (b *Builder) Build() ([]packet.Request, error) {
	batches, err := b.Split()
	if err != nil {
		return nil, err
	}
	requests := make([]packet.Request, len(batches))
	for i, batch := range batches {
		requests[i] = batch.Request
	}
	return requests, nil
}

// ReadCoilsTCP splits added coil fields into Read Coils (FC01) TCP requests
func (b *Builder) ReadCoilsTCP() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadCoils, ProtocolTCP)
}

// ReadCoilsRTU splits added coil fields into Read Coils (FC01) RTU requests
func (b *Builder) ReadCoilsRTU() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadCoils, ProtocolRTU)
}

// ReadDiscreteInputsTCP splits added coil fields into Read Discrete Inputs (FC02) TCP requests
func (b *Builder) ReadDiscreteInputsTCP() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadDiscreteInputs, ProtocolTCP)
}

// ReadDiscreteInputsRTU splits added coil fields into Read Discrete Inputs (FC02) RTU requests
func (b *Builder) ReadDiscreteInputsRTU() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadDiscreteInputs, ProtocolRTU)
}

// ReadHoldingRegistersTCP splits added register fields into Read Holding Registers (FC03) TCP requests
func (b *Builder) ReadHoldingRegistersTCP() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadHoldingRegisters, ProtocolTCP)
}

// ReadHoldingRegistersRTU splits added register fields into Read Holding Registers (FC03) RTU requests
func (b *Builder) ReadHoldingRegistersRTU() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadHoldingRegisters, ProtocolRTU)
}

// ReadInputRegistersTCP splits added register fields into Read Input Registers (FC04) TCP requests
func (b *Builder) ReadInputRegistersTCP() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadInputRegisters, ProtocolTCP)
}

// ReadInputRegistersRTU splits added register fields into Read Input Registers (FC04) RTU requests
func (b *Builder) ReadInputRegistersRTU() ([]BuilderRequest, error) {
	return split(b.fields, packet.FunctionReadInputRegisters, ProtocolRTU)
}

// ErrorFieldExtractHadError is returned as is (not wrapped) by BuilderRequest.ExtractFields when continueOnExtractionErrors
// is true and at least one field failed to extract. Individual failures are reported per FieldValue.Error.
var ErrorFieldExtractHadError = errors.New("one or more fields had extraction errors")

// BuilderRequest pairs a constructed modbus request with the metadata needed to turn its response back into
// field values. It implements packet.Request by delegating to its wrapped Request.
type BuilderRequest struct {
	Request packet.Request

	ServerAddress   string
	UnitID          uint8
	StartAddress    uint16
	Protocol        ProtocolType
	RequestInterval time.Duration

	Fields Fields
}

// FunctionCode returns function code of the wrapped request
func (rr BuilderRequest) FunctionCode() uint8 {
	return rr.Request.FunctionCode()
}

// Bytes returns the wrapped request as bytes form
func (rr BuilderRequest) Bytes() []byte {
	return rr.Request.Bytes()
}

// ExpectedResponseLength returns length of bytes that valid response to the wrapped request would be
func (rr BuilderRequest) ExpectedResponseLength() int {
	return rr.Request.ExpectedResponseLength()
}

// AsRegisters extracts register data from given response and wraps it as packet.Registers starting at StartAddress
func (rr BuilderRequest) AsRegisters(resp packet.Response) (*packet.Registers, error) {
	data, err := registerResponseData(resp)
	if err != nil {
		return nil, err
	}
	return packet.NewRegisters(data, rr.StartAddress)
}

// ExtractFields extracts typed FieldValue for every Field of this request from given response. When
// continueOnExtractionErrors is false, the first extraction error aborts and is returned directly. When true,
// all fields are processed, each failure is recorded on its own FieldValue.Error and ErrorFieldExtractHadError
// is returned if any field failed.
func (rr BuilderRequest) ExtractFields(resp packet.Response, continueOnExtractionErrors bool) ([]FieldValue, error) {
	switch resp.FunctionCode() {
	case packet.FunctionReadCoils, packet.FunctionReadDiscreteInputs:
		return rr.extractCoilFields(resp, continueOnExtractionErrors)
	default:
		registers, err := rr.AsRegisters(resp)
		if err != nil {
			return nil, err
		}
		return rr.extractRegisterFields(registers, continueOnExtractionErrors)
	}
}

func (rr BuilderRequest) extractRegisterFields(registers *packet.Registers, continueOnExtractionErrors bool) ([]FieldValue, error) {
	hadError := false
	values := make([]FieldValue, 0, len(rr.Fields))
	for _, f := range rr.Fields {
		field := f
		value, err := field.ExtractFrom(registers)
		if err != nil {
			hadError = true
			if !continueOnExtractionErrors {
				return nil, fmt.Errorf("field extraction failed. name: %s err: %v", field.Name, err)
			}
		}
		values = append(values, FieldValue{Field: field, Value: value, Error: err})
	}
	if hadError {
		return values, ErrorFieldExtractHadError
	}
	return values, nil
}

func (rr BuilderRequest) extractCoilFields(resp packet.Response, continueOnExtractionErrors bool) ([]FieldValue, error) {
	hadError := false
	values := make([]FieldValue, 0, len(rr.Fields))
	for _, f := range rr.Fields {
		field := f
		value, err := isCoilSet(resp, rr.StartAddress, field.Address)
		if err != nil {
			hadError = true
			if !continueOnExtractionErrors {
				return nil, fmt.Errorf("field extraction failed. name: %s err: %v", field.Name, err)
			}
		}
		values = append(values, FieldValue{Field: field, Value: value, Error: err})
	}
	if hadError {
		return values, ErrorFieldExtractHadError
	}
	return values, nil
}

// FieldValue is extracted value (or error) of a Field from a modbus response
type FieldValue struct {
	Field Field
	Value any
	Error error
}

// registerResponseData extracts raw register bytes from a known register-response type
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
		return nil, fmt.Errorf("unsupported response type for register field extraction: %T", resp)
	}
}

// isCoilSet extracts N-th coil/discrete input state from a known coil-response type
func isCoilSet(resp packet.Response, startAddress uint16, coilAddress uint16) (bool, error) {
	switch r := resp.(type) {
	case packet.ReadCoilsResponseTCP:
		return r.IsCoilSet(startAddress, coilAddress)
	case *packet.ReadCoilsResponseTCP:
		return r.IsCoilSet(startAddress, coilAddress)
	case packet.ReadCoilsResponseRTU:
		return r.IsCoilSet(startAddress, coilAddress)
	case *packet.ReadCoilsResponseRTU:
		return r.IsCoilSet(startAddress, coilAddress)
	case packet.ReadDiscreteInputsResponseTCP:
		return r.IsInputSet(startAddress, coilAddress)
	case *packet.ReadDiscreteInputsResponseTCP:
		return r.IsInputSet(startAddress, coilAddress)
	case packet.ReadDiscreteInputsResponseRTU:
		return r.IsInputSet(startAddress, coilAddress)
	case *packet.ReadDiscreteInputsResponseRTU:
		return r.IsInputSet(startAddress, coilAddress)
	default:
		return false, fmt.Errorf("unsupported response type for coil field extraction: %T", resp)
	}
}
