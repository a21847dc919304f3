package bacnet

import "errors"

// Protocol failures the bridge reacts to. Transports must wrap their native
// error codes into these sentinels so callers can classify with errors.Is.
var (
	// ErrUnknownProperty means the object has proven it does not carry the
	// requested property. Callers treat this as sticky for the object.
	ErrUnknownProperty = errors.New("bacnet: unknown-property")

	// ErrUnknownObject means the addressed object does not exist on the device.
	ErrUnknownObject = errors.New("bacnet: unknown-object")

	// ErrAbortBufferOverflow means the response did not fit in one exchange.
	ErrAbortBufferOverflow = errors.New("bacnet: abort buffer-overflow")

	// ErrInvalidArrayIndex means an indexed read addressed past the end of a
	// list-valued property.
	ErrInvalidArrayIndex = errors.New("bacnet: invalid-array-index")

	// ErrTimeout means the device did not answer within the request deadline.
	ErrTimeout = errors.New("bacnet: request timed out")

	// ErrNotSupported means the transport does not implement the requested
	// primitive. Registration strategies use it to fall through the chain.
	ErrNotSupported = errors.New("bacnet: primitive not supported by transport")
)
