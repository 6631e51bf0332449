package pkg

import "errors"

// Bus-side errors raised by the SCSI engine.
var (
	// ErrBusBusy indicates the bus never became free within the retry budget.
	ErrBusBusy = errors.New("bus busy")

	// ErrSelectionTimeout indicates no target answered selection.
	ErrSelectionTimeout = errors.New("selection timeout")

	// ErrNoTarget indicates the discovery scan found no target.
	ErrNoTarget = errors.New("no target found")

	// ErrDisconnected indicates the target released BSY while a handshake was pending.
	ErrDisconnected = errors.New("target disconnected")

	// ErrUnexpectedDisconnect indicates a connection ended without COMPLETE or DISCONNECT.
	ErrUnexpectedDisconnect = errors.New("unexpected disconnect")

	// ErrUnknownPhase indicates a reserved bus phase code.
	ErrUnknownPhase = errors.New("unknown bus phase")

	// ErrUnknownTag indicates the target named a tag that is not in flight.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrUnexpectedReject indicates a MESSAGE REJECT that matches no enabled capability.
	ErrUnexpectedReject = errors.New("unexpected message reject")

	// ErrRejectRepeated indicates a command asked for a second retry.
	ErrRejectRepeated = errors.New("message reject after retry")
)

// Host-side request and resource errors.
var (
	// ErrShortRequest indicates an inbound command shorter than its fixed size.
	ErrShortRequest = errors.New("short request")

	// ErrBadSignature indicates an inbound command with the wrong signature or IU type.
	ErrBadSignature = errors.New("bad request signature")

	// ErrTagExhausted indicates every tag slot is in use.
	ErrTagExhausted = errors.New("no free tag")

	// ErrTagInUse indicates the host reused a tag that is still in flight.
	ErrTagInUse = errors.New("tag in use")
)

// USB transport errors.
var (
	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrProtocol indicates a malformed transport message.
	ErrProtocol = errors.New("protocol error")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoResources indicates a frame pool or queue is full.
	ErrNoResources = errors.New("no resources available")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")
)
