package keepui

import (
	"errors"
	"fmt"
)

// error taxonomy for the ui core
// pure functions return these synchronously,
// async operations deliver them through the callback err argument

var ErrInvalidBlobRef = errors.New("invalid blobref syntax")
var ErrUnsupportedAlgo = errors.New("unsupported hash algorithm")
var ErrMissingSigningConfig = errors.New("missing signing config")
var ErrUnknownMessageKind = errors.New("no handler for message kind")
var ErrOrphanReply = errors.New("reply with no pending request")
var ErrUnknownThumbType = errors.New("unknown thumb type")
var ErrSessionClosed = errors.New("session closed")

// TransportError is a network failure with the http status when one was read.
type TransportError struct {
	Status int
	Err    error
}

func (self *TransportError) Error() string {
	if self.Status != 0 {
		return fmt.Sprintf("transport error (status %d): %s", self.Status, self.Err)
	}
	return fmt.Sprintf("transport error: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// ServerError is a json response that carried an `error` field.
type ServerError struct {
	Message string
}

func (self *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", self.Message)
}
