package verification

import (
	"errors"
	"fmt"
)

var (
	ErrPreconditionViolation  = errors.New("precondition violation")
	ErrDataIntegrityViolation = errors.New("data integrity violation")
)

type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPreconditionViolation, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionViolation
}

type IntegrityError struct {
	Field   string
	Problem string
}

func (e *IntegrityError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrDataIntegrityViolation, e.Problem)
	}

	return fmt.Sprintf("%s: %s %s", ErrDataIntegrityViolation, e.Field, e.Problem)
}

func (e *IntegrityError) Unwrap() error {
	return ErrDataIntegrityViolation
}

func integrity(field, problem string) error {
	return &IntegrityError{Field: field, Problem: problem}
}
