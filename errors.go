// go-uhf
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-uhf.
//
// go-uhf is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-uhf is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-uhf; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package uhf

import (
	"errors"
	"fmt"
)

// Transport and framing errors
var (
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrTransportRead       = errors.New("transport read failed")
	ErrTransportWrite      = errors.New("transport write failed")
	ErrTransportClosed     = errors.New("transport is not open")
	ErrCommunicationFailed = errors.New("communication failed")
	ErrFrameCorrupted      = errors.New("frame corrupted: no start marker")
	ErrChecksumMismatch    = errors.New("frame checksum mismatch")
	ErrDataTooLarge        = errors.New("data too large")
)

// Device and usage errors
var (
	ErrDeviceNotFound   = errors.New("no module answered at any baud rate")
	ErrNotConnected     = errors.New("device not connected")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidResponse  = errors.New("invalid response")
	ErrUnsupported      = errors.New("operation not supported by this module")
	ErrReadInProgress   = errors.New("background reading in progress")
	ErrListenerConflict = errors.New("status and stats listeners cannot be registered together")
	ErrReaderClosed     = errors.New("reader closed")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent indicates an error that won't be resolved by retrying
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout indicates a timeout that may succeed on retry
	ErrorTypeTimeout
)

// TransportError wraps a failure of the underlying byte stream with the
// operation and port it happened on.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error. Anything that is not
// permanent is retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Err:       err,
		Op:        op,
		Port:      port,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewTimeoutError creates a retryable timeout error
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError creates a retryable framing error
func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewChecksumError creates a retryable CRC error
func NewChecksumError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrChecksumMismatch, ErrorTypeTransient)
}

// NewDataTooLargeError creates a permanent error for oversized payloads
func NewDataTooLargeError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrDataTooLarge, ErrorTypePermanent)
}

// IsRetryable reports whether an operation that failed with err may succeed
// when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrCommunicationFailed),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// GetErrorType returns the classification of err
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrCommunicationFailed),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTransportTimeout)
}

// FaultCode is a non-zero status word returned by the module.
// FaultCode values are errors so they can be matched with errors.Is.
type FaultCode uint16

// Status codes reported by the module
const (
	FaultWrongNumberOfData       FaultCode = 0x0100
	FaultInvalidOpcode           FaultCode = 0x0101
	FaultUnimplementedOpcode     FaultCode = 0x0102
	FaultInvalidParameter        FaultCode = 0x0105
	FaultUnimplementedFeature    FaultCode = 0x0109
	FaultInvalidBaudRate         FaultCode = 0x010A
	FaultInvalidRegion           FaultCode = 0x010B
	FaultNoTagsFound             FaultCode = 0x0400
	FaultNoProtocolDefined       FaultCode = 0x0401
	FaultInvalidProtocol         FaultCode = 0x0402
	FaultProtocolNoDataRead      FaultCode = 0x0404
	FaultGeneralTagError         FaultCode = 0x040A
	FaultDataTooLarge            FaultCode = 0x040B
	FaultMemoryOverrun           FaultCode = 0x0423
	FaultMemoryLocked            FaultCode = 0x0424
	FaultInsufficientPower       FaultCode = 0x042B
	FaultAntennaNotConnected     FaultCode = 0x0503
	FaultTemperatureExceedLimits FaultCode = 0x0504
	FaultHighReturnLoss          FaultCode = 0x0505
	FaultInvalidAntennaConfig    FaultCode = 0x0507
	FaultNotEnoughTags           FaultCode = 0x0600
	FaultTagIDBufferFull         FaultCode = 0x0601
	FaultRepeatedTagID           FaultCode = 0x0602
	FaultTooManyTagsRequested    FaultCode = 0x0603
	FaultTagAuthRequest          FaultCode = 0x0604
)

// Convenience aliases for the faults callers most often match on
var (
	ErrNoTagsFound     error = FaultNoTagsFound
	ErrTagIDBufferFull error = FaultTagIDBufferFull
	ErrNoAntenna       error = FaultAntennaNotConnected
)

var faultNames = map[FaultCode]string{
	FaultWrongNumberOfData:       "wrong number of data",
	FaultInvalidOpcode:           "invalid opcode",
	FaultUnimplementedOpcode:     "unimplemented opcode",
	FaultInvalidParameter:        "invalid parameter",
	FaultUnimplementedFeature:    "unimplemented feature",
	FaultInvalidBaudRate:         "invalid baud rate",
	FaultInvalidRegion:           "invalid region",
	FaultNoTagsFound:             "no tags found",
	FaultNoProtocolDefined:       "no protocol defined",
	FaultInvalidProtocol:         "invalid protocol",
	FaultProtocolNoDataRead:      "no data read",
	FaultGeneralTagError:         "general tag error",
	FaultDataTooLarge:            "data too large",
	FaultMemoryOverrun:           "memory overrun",
	FaultMemoryLocked:            "memory locked",
	FaultInsufficientPower:       "insufficient power",
	FaultAntennaNotConnected:     "antenna not connected",
	FaultTemperatureExceedLimits: "temperature exceeds limits",
	FaultHighReturnLoss:          "high return loss",
	FaultInvalidAntennaConfig:    "invalid antenna configuration",
	FaultNotEnoughTags:           "not enough tags available",
	FaultTagIDBufferFull:         "tag id buffer full",
	FaultRepeatedTagID:           "repeated tag id",
	FaultTooManyTagsRequested:    "too many tags requested",
	FaultTagAuthRequest:          "tag authentication request",
}

func (c FaultCode) String() string {
	if name, ok := faultNames[c]; ok {
		return name
	}
	return "unknown fault"
}

func (c FaultCode) Error() string {
	return fmt.Sprintf("%s (0x%04X)", c.String(), uint16(c))
}

// FaultError is a coded fault returned in the status word of a response.
type FaultError struct {
	Code   FaultCode
	Opcode byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("command 0x%02X failed: %v", e.Opcode, e.Code)
}

// Is matches FaultCode targets so errors.Is(err, ErrNoTagsFound) works.
// A module-reported invalid parameter also matches ErrInvalidParameter.
func (e *FaultError) Is(target error) bool {
	if target == ErrInvalidParameter {
		return e.Code == FaultInvalidParameter
	}
	code, ok := target.(FaultCode)
	return ok && code == e.Code
}

// FirmwareAssertError reports an assertion failure inside the module
// firmware. The module must be reset before it is usable again.
type FirmwareAssertError struct {
	File   string
	Line   uint32
	Status uint16
}

func (e *FirmwareAssertError) Error() string {
	return fmt.Sprintf("firmware assert 0x%04X at %s:%d", e.Status, e.File, e.Line)
}

// DeviceResetError reports a response whose opcode does not echo the
// request, which happens when the module rebooted mid-exchange.
type DeviceResetError struct {
	Sent     byte
	Received byte
}

func (e *DeviceResetError) Error() string {
	return fmt.Sprintf("device reset: sent opcode 0x%02X, received 0x%02X", e.Sent, e.Received)
}

// IsFatal reports whether err leaves the module unusable until it is reset.
func IsFatal(err error) bool {
	var fa *FirmwareAssertError
	var dr *DeviceResetError
	return errors.As(err, &fa) || errors.As(err, &dr)
}
