package promptnode

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("api key not configured")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrEncoding          = errors.New("image encoding failed")
	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")
)

//go:generate go tool enumer -type=ErrorKind -json -trimprefix=ErrorKind -transform=snake -output=error_kind.gen.go

type ErrorKind uint32

const (
	ErrorKindUnclassified ErrorKind = iota
	ErrorKindMissingCredential
	ErrorKindInvalidParameter
	ErrorKindEncoding
	ErrorKindTransport
	ErrorKindExtraction
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindMissingCredential:
		return ErrMissingCredential
	case ErrorKindInvalidParameter:
		return ErrInvalidParameter
	case ErrorKindEncoding:
		return ErrEncoding
	case ErrorKindTransport:
		return ErrTransport
	case ErrorKindExtraction:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// OperationError is returned by every failing operation run.
type OperationError struct {
	Op   OperationKind
	Kind ErrorKind
	Err  error
}

func newOperationError(op OperationKind, err error) *OperationError {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	return &OperationError{
		Op:   op,
		Kind: classifyError(err),
		Err:  err,
	}
}

func classifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return ErrorKindMissingCredential
	case errors.Is(err, ErrInvalidParameter):
		return ErrorKindInvalidParameter
	case errors.Is(err, ErrEncoding):
		return ErrorKindEncoding
	// checked before transport: a provider may report an undecodable body as both
	case errors.Is(err, ErrMalformedResponse):
		return ErrorKindExtraction
	case errors.Is(err, ErrTransport):
		return ErrorKindTransport
	default:
		return ErrorKindUnclassified
	}
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// Diagnostic returns the human readable message a host shows in place of the generated text.
func (e *OperationError) Diagnostic() string {
	switch e.Kind {
	case ErrorKindMissingCredential:
		msg := "OpenAI API key not found in configuration. Please set openai_api_key in the config file or the OPENAI_API_KEY environment variable."
		if e.Err != nil && e.Err != ErrMissingCredential {
			msg += fmt.Sprintf(" (%v)", e.Err)
		}
		return msg
	case ErrorKindInvalidParameter:
		return fmt.Sprintf("Invalid parameter: %v", e.Err)
	case ErrorKindEncoding:
		return fmt.Sprintf("Error encoding image: %v", e.Err)
	case ErrorKindTransport:
		return fmt.Sprintf("Error calling OpenAI API: %v", e.Err)
	case ErrorKindExtraction:
		return fmt.Sprintf("Error parsing OpenAI API response: %v", e.Err)
	default:
		return fmt.Sprintf("Unexpected error in %s: %v", e.Op.Info().errorContext, e.Err)
	}
}
