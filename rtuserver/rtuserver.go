// Package rtuserver implements the Modbus RTU side of server dispatch,
// mirroring the TCP dispatch in package server but driven by a byte stream
// instead of length-prefixed packets: frames are delimited by an inter-frame
// silence gap rather than a header length field, exactly as real RTU wire
// traffic is framed.
package rtuserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tarnhelm/gomodbus/packet"
	"github.com/tarnhelm/gomodbus/server"
)

const (
	// defaultReadPollInterval is how long a single Read call blocks for while
	// waiting for more bytes of the current frame.
	defaultReadPollInterval = 5 * time.Millisecond
	// defaultFrameGap is how long the line must stay silent before the bytes
	// accumulated so far are treated as one complete frame.
	defaultFrameGap = 10 * time.Millisecond

	maxRTUFrameLen = 256
)

// deadliner is implemented by connections that support read deadlines (serial
// ports opened through github.com/tarm/serial and rtu.Port both do, when the
// underlying driver supports it). When the connection does not implement it,
// Server falls back to polling Read in a tight loop with defaultReadPollInterval.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Server dispatches Modbus RTU requests read from a single serial connection
// to a server.ModbusHandler, sharing that interface with the TCP server so one
// handler implementation serves both transports.
//
// Unlike server.Server there is no listener/accept loop: RTU is a single
// point-to-point (or multidrop) serial line, so Serve owns exactly one
// connection for its whole lifetime.
type Server struct {
	// ReadPollInterval is how long each underlying Read blocks for. Defaults to 5ms.
	ReadPollInterval time.Duration
	// FrameGap is the silence duration that marks a frame boundary. Defaults to 10ms.
	FrameGap time.Duration

	// Logger is used for the default OnErrorFunc/OnCrcErrorFunc behavior below.
	// Defaults to slog.Default.
	Logger *slog.Logger

	// OnCrcErrorFunc is called when a received frame's CRC does not validate.
	// No response is sent to the bus for and the frame is discarded.
	OnCrcErrorFunc func(err error)
	// OnErrorFunc is called for handler/parse errors which are not CRC failures.
	OnErrorFunc func(err error)
}

// Serve reads frames from conn and dispatches them to handler until ctx is
// done or conn.Read returns an unrecoverable error. conn should usually be an
// *rtu.Port so the transmit-enable pin is asserted around responses.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriteCloser, handler server.ModbusHandler) error {
	pollInterval := s.ReadPollInterval
	if pollInterval <= 0 {
		pollInterval = defaultReadPollInterval
	}
	frameGap := s.FrameGap
	if frameGap <= 0 {
		frameGap = defaultFrameGap
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onErrorFunc := s.OnErrorFunc
	if onErrorFunc == nil {
		onErrorFunc = func(err error) {
			logger.Error("modbus rtu server error", "err", err)
		}
	}
	onCrcErrorFunc := s.OnCrcErrorFunc
	if onCrcErrorFunc == nil {
		onCrcErrorFunc = func(err error) {
			logger.Warn("modbus rtu server crc error", "err", err)
		}
	}
	dl, hasDeadline := conn.(deadliner)

	buf := make([]byte, 0, maxRTUFrameLen)
	chunk := make([]byte, maxRTUFrameLen)
	var lastReceived time.Time
	for {
		select {
		case <-ctx.Done():
			return server.ErrServerClosed
		default:
		}

		if hasDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(pollInterval))
		}
		n, err := conn.Read(chunk)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			if errors.Is(err, io.EOF) {
				return server.ErrServerClosed
			}
			return err
		}
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			lastReceived = time.Now()
			if !hasDeadline {
				// no real deadline support (e.g. a fake in tests): give the rest
				// of the frame a moment to arrive before treating buf as final.
				time.Sleep(pollInterval)
			}
			continue
		}

		if len(buf) == 0 {
			continue
		}
		if time.Since(lastReceived) < frameGap {
			continue
		}

		s.dispatch(ctx, conn, buf, handler, onErrorFunc, onCrcErrorFunc)
		buf = buf[:0]
	}
}

func (s *Server) dispatch(ctx context.Context, conn io.Writer, frame []byte, handler server.ModbusHandler, onErrorFunc func(error), onCrcErrorFunc func(error)) {
	if len(frame) < 4 {
		onErrorFunc(fmt.Errorf("rtu frame too short to contain unit id, function code and crc: %d bytes", len(frame)))
		return
	}

	packetCRC := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	actualCRC := packet.CRC16(frame[:len(frame)-2])
	if packetCRC != actualCRC {
		onCrcErrorFunc(packet.ErrInvalidCRC)
		return
	}

	req, err := packet.ParseRTURequest(frame)
	if err != nil {
		onErrorFunc(err)
		return
	}

	resp, err := handler.Handle(ctx, req)
	if err != nil {
		onErrorFunc(err)
		return
	}
	if resp == nil {
		return
	}
	if _, err := conn.Write(resp.Bytes()); err != nil {
		onErrorFunc(fmt.Errorf("writing rtu response failed: %w", err))
	}
}
