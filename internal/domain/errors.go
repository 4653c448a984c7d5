package domain

import "errors"

// Sentinel errors for device and register validation.
var (
	ErrDeviceIDRequired      = errors.New("domain: device id is required")
	ErrDeviceNameRequired    = errors.New("domain: device name is required")
	ErrDeviceIPRequired      = errors.New("domain: device ip address is required")
	ErrProtocolRequired      = errors.New("domain: protocol is required")
	ErrUnknownProtocol       = errors.New("domain: unknown protocol tag")
	ErrPollIntervalTooShort  = errors.New("domain: polling interval must be >= 100ms")
	ErrTimeoutTooShort       = errors.New("domain: timeout must be >= 100ms")
	ErrRegisterAddressNeg    = errors.New("domain: register address must be >= 0")
	ErrRegisterCountTooSmall = errors.New("domain: register count must be >= 1")
	ErrRegisterWidthMismatch = errors.New("domain: register count does not match data type width")
	ErrUnknownRegisterType   = errors.New("domain: unknown register type")
	ErrUnknownDataType       = errors.New("domain: unknown data type")
)

// TransportError wraps a socket-layer failure (connect/read/write).
// Local recovery: reconnect on the next Poller tick.
type TransportError struct {
	IP  string
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport error on " + e.IP + " during " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a device-level exception response or malformed PDU.
// Local recovery: mark the batch bad, continue with the next one.
type ProtocolError struct {
	IP  string
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol error on " + e.IP + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError is classified as a TransportError for recovery purposes but
// counted separately in supervisor status.
type TimeoutError struct {
	IP string
	Op string
}

func (e *TimeoutError) Error() string {
	return "timeout on " + e.IP + " during " + e.Op
}

// ConfigError describes an unusable device configuration: unknown protocol
// tag, or an invalid RegisterConfig. No code path constructs it. For an
// unknown protocol tag the Supervisor logs the Adapter Registry's error and
// does not start that device; the device gets no entry in status(), and
// the rest of the process keeps running.
type ConfigError struct {
	DeviceID string
	Err      error
}

func (e *ConfigError) Error() string {
	return "config error for device " + e.DeviceID + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PersistenceError wraps a repository write failure. Local recovery: the
// retry policy in the Poller's flush step, then the batch is dropped.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence error during " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DiscoveryPartial marks a pipeline phase that timed out or degraded but
// still returned usable partial results. Non-fatal.
type DiscoveryPartial struct {
	Phase  string
	Reason string
}

func (e *DiscoveryPartial) Error() string {
	return "discovery phase " + e.Phase + " returned partial results: " + e.Reason
}

// PermissionError marks a raw-socket operation that requires elevated
// privilege the running process does not have.
type PermissionError struct {
	Op string
}

func (e *PermissionError) Error() string {
	return "permission denied for privileged operation: " + e.Op
}
