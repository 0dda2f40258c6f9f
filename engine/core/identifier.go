package core

import "github.com/google/uuid"

// NewRequestID returns a fresh identifier for one load request. It tags log
// lines and events so concurrent loads can be told apart.
func NewRequestID() string {
	return uuid.NewString()
}

// NewTempSuffix returns a unique suffix for temporary files written next to
// their final destination.
func NewTempSuffix() string {
	return ".tmp-" + uuid.NewString()
}
