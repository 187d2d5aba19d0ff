package models

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// MalformedPayloadError reports a payload that can never be accepted and must not be queued.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedPayloadError.
func IsMalformed(err error) bool {
	var mErr *MalformedPayloadError
	return errors.As(err, &mErr)
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks a sample against its coordinate and identity constraints.
func (s LocationSample) Validate() error {
	if err := Validator().Struct(s); err != nil {
		return &MalformedPayloadError{Err: err}
	}
	return nil
}

// Validate checks the delete filter.
func (f DeleteFilter) Validate() error {
	if err := Validator().Struct(f); err != nil {
		return &MalformedPayloadError{Err: err}
	}
	return nil
}

// Validate checks that the operation carries the payload its method requires.
func (op QueuedOperation) Validate() error {
	switch op.Method {
	case MethodCreate:
		if op.Sample == nil {
			return &MalformedPayloadError{Err: errors.New("create operation without sample")}
		}
		return op.Sample.Validate()
	case MethodDelete:
		if op.Filter == nil {
			return &MalformedPayloadError{Err: errors.New("delete operation without filter")}
		}
		return op.Filter.Validate()
	default:
		return &MalformedPayloadError{Err: fmt.Errorf("unknown method %q", op.Method)}
	}
}
