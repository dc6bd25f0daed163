package migrate

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrStage  = errors.New("staging failed")
	ErrUpload = errors.New("upload failed")
)

// StepError is a failed transfer step. Step is ErrStage or ErrUpload; Err
// keeps the underlying cause, including any store.CallError.
type StepError struct {
	Step error
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Name, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Step, e.Err}
}
