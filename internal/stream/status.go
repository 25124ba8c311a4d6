// SPDX-License-Identifier: MIT

package stream

// Status is the connection lifecycle of the event stream client.
type Status string

const (
	// StatusDisconnected means no connection exists and none is sought.
	StatusDisconnected Status = "disconnected"

	// StatusConnecting means the first dial is in flight.
	StatusConnecting Status = "connecting"

	// StatusConnected means frames are flowing.
	StatusConnected Status = "connected"

	// StatusReconnecting means the connection dropped and the backoff
	// cycle is running.
	StatusReconnecting Status = "reconnecting"

	// StatusFailed is terminal: reconnect attempts are exhausted or the
	// server rejected the credentials. Only a fresh Connect leaves it.
	StatusFailed Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the client has given up on this connection.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusDisconnected
}
