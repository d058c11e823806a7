package util

import "errors"

var (
	ErrFormat      = errors.New("not a bloom index")
	ErrCapacity    = errors.New("tuple does not fit into an empty page")
	ErrUnsupported = errors.New("operation not supported by bloom index")
	ErrConfig      = errors.New("invalid bloom index configuration")
	ErrExhausted   = errors.New("bufferpool exhausted")
)

type PetroError struct {
	Message string
	Err     error
}

func (e *PetroError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *PetroError) Unwrap() error {
	return e.Err
}

type BufferpoolExhaustedError struct {
	*PetroError
}

// FormatError reports a file whose metapage does not describe a bloom index.
// The index is unusable until rebuilt.
type FormatError struct {
	*PetroError
}

// CapacityError reports that a freshly initialised page refused a tuple.
// It means corruption or a tuple size that cannot fit in a page.
type CapacityError struct {
	*PetroError
}

type UnsupportedError struct {
	*PetroError
}

// ConfigError is returned for option values outside their allowed range.
// Such values are never persisted.
type ConfigError struct {
	*PetroError
	Option string
}

func NewFormatError(message string) error {
	return &FormatError{&PetroError{Message: message, Err: ErrFormat}}
}

func NewCapacityError(message string) error {
	return &CapacityError{&PetroError{Message: message, Err: ErrCapacity}}
}

func NewUnsupportedError(message string) error {
	return &UnsupportedError{&PetroError{Message: message, Err: ErrUnsupported}}
}

func NewConfigError(option, message string) error {
	return &ConfigError{PetroError: &PetroError{Message: message, Err: ErrConfig}, Option: option}
}

func NewBufferpoolExhaustedError(message string) error {
	return &BufferpoolExhaustedError{&PetroError{Message: message, Err: ErrExhausted}}
}
