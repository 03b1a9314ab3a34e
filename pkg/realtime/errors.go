package realtime

import (
	"errors"

	"github.com/coder/websocket"
)

// Connection and session errors, matched with errors.Is. Adapters wrap these
// with provider-specific detail.
var (
	// ErrAuthFailure: the provider rejected the credentials.
	ErrAuthFailure = errors.New("realtime: authentication failure")

	// ErrNetworkUnreachable: the transport could not be established.
	ErrNetworkUnreachable = errors.New("realtime: network unreachable")

	// ErrProtocolMismatch: the handshake succeeded but the provider did not
	// speak the expected protocol.
	ErrProtocolMismatch = errors.New("realtime: protocol mismatch")

	// ErrRejectedByProvider: the provider refused the session configuration.
	ErrRejectedByProvider = errors.New("realtime: configuration rejected by provider")

	// ErrSessionClosed: an operation was attempted on a closed session.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrKeepaliveUnsupported: the provider's protocol has no liveness ping.
	ErrKeepaliveUnsupported = errors.New("realtime: keepalive not supported")
)

// NormalizeClose maps a transport read error to a close reason and a clean
// flag. Close codes 1000 (normal closure) and 1005 (no status received) are
// normal; any other code surfaces the provider's close reason text.
func NormalizeClose(err error) (reason string, clean bool) {
	if err == nil {
		return "", true
	}

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.StatusNormalClosure, websocket.StatusNoStatusRcvd:
			return ce.Reason, true
		default:
			if ce.Reason != "" {
				return ce.Reason, false
			}
			return ce.Code.String(), false
		}
	}
	return err.Error(), false
}
