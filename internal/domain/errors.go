package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUploadPending   = errors.New("a file upload is already pending")
	ErrNoPendingUpload = errors.New("no pending upload")
	ErrEmptyMessages   = errors.New("message list is empty")
)

// ModelSwitchError is returned when a chat that was started with one model
// tries to continue with another one.
type ModelSwitchError struct {
	BoundModel string
}

func (e *ModelSwitchError) Error() string {
	return fmt.Sprintf("cannot change model in an existing conversation: this conversation was started with %s", e.BoundModel)
}
