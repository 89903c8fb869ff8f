// Package nle implements the client for the No Longer Evil thermostat
// cloud API.
//
// # Features
//
//   - Bearer API key authentication
//   - Device listing, status polling and command writes
//   - Fan timer and schedule pass-through
//   - Rate-limit header tracking for health reporting
//   - Error taxonomy mapped onto sentinel errors
//
// # Error Handling
//
// Every failure is classified so callers can react per category:
//
//	status, err := client.GetDeviceStatus(ctx, id)
//	switch {
//	case errors.Is(err, nle.ErrAuthentication):
//	    // key revoked: stop, operator action required
//	case errors.Is(err, nle.ErrRateLimited):
//	    // back off until the window resets
//	case errors.Is(err, nle.ErrConnectivity):
//	    // transient: retry next poll
//	case errors.Is(err, nle.ErrMalformed):
//	    // vendor contract change: log the body shape
//	}
//
// The client never retries on its own; the poller owns retry policy.
//
// # Status Payload Shape
//
// The vendor nests live state under a "shared.{serial}" key and device
// settings under "device.{serial}", where the serial comes from the same
// payload. ParseDeviceStatus flattens both into a DeviceStatus.
//
// # Security
//
// The API key is held in memory only and is never logged. Callers that
// log request failures get the key-free error strings from this package.
package nle
