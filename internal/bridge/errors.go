package bridge

import "errors"

// Sentinel errors for bridge operations.
//
// These can be checked with errors.Is() for specific handling:
//
//	if errors.Is(err, bridge.ErrUnknownDevice) {
//	    // 404 for the API, UNKNOWN_DEVICE ack for MQTT
//	}
var (
	// ErrUnknownDevice indicates the device is not in the account's
	// device list.
	ErrUnknownDevice = errors.New("bridge: unknown device")

	// ErrInvalidCommand indicates an unrecognised command type.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidParameters indicates a recognised command with missing or
	// out-of-range parameters.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)
