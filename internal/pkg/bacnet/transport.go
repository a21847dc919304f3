package bacnet

import (
	"context"
	"errors"
	"fmt"
)

// Transport is the protocol stack boundary. PDU parsing, addressing and
// segmentation live behind it; the bridge only issues these primitives.
//
// A transport that cannot implement one of the registration primitives
// returns ErrNotSupported from it, which moves the registration manager on
// to the next fallback strategy.
type Transport interface {
	// WhoIs broadcasts a device-presence request, optionally bounded by a
	// device-id range. Either bound may be nil for unbounded.
	WhoIs(ctx context.Context, low, high *uint32) error

	// ReadProperty reads one property of one object, or one element of a
	// list-valued property when index is non-nil. A nil value with a nil
	// error means the device answered without a value.
	ReadProperty(ctx context.Context, address string, object ObjectID, property string, index *uint32) (any, error)

	// WriteProperty writes a value, optionally at a priority and array index.
	WriteProperty(ctx context.Context, address string, object ObjectID, property string, value any, priority, index *uint32) error

	// RegisterForeignDevice registers with a broadcast-management relay for
	// ttl seconds. A ttl of zero deregisters.
	RegisterForeignDevice(ctx context.Context, relay string, ttl uint16) error

	// Request hands a link-layer message to the transport's service access
	// point, bypassing the application layer.
	Request(ctx context.Context, msg Message) error

	// SendRaw transmits a pre-encoded datagram to the given address.
	SendRaw(address string, datagram []byte) error

	// SubscribeIAm routes every inbound device-presence announcement into ch
	// until the returned release function is called. Callers must release on
	// every exit path.
	SubscribeIAm(ch chan<- IAm) (release func())
}

// TransportFactory builds a Transport for a listen address.
type TransportFactory func(ctx context.Context, listenAddress string) (Transport, error)

var transportFactories = make(map[string]TransportFactory)

var errAlreadyRegistered = errors.New("transport factory already registered")

// RegisterTransport makes a protocol stack available under a name. The
// concrete stack is an external collaborator; it registers itself here and
// the gateway selects it by configuration at startup.
func RegisterTransport(name string, factory TransportFactory) error {
	if _, ok := transportFactories[name]; ok {
		return errAlreadyRegistered
	}
	transportFactories[name] = factory
	return nil
}

// NewTransport constructs the named transport. An unknown name is a fatal
// startup condition for the gateway.
func NewTransport(ctx context.Context, name, listenAddress string) (Transport, error) {
	factory, ok := transportFactories[name]
	if !ok {
		return nil, fmt.Errorf("no transport registered under %q", name)
	}
	return factory(ctx, listenAddress)
}
