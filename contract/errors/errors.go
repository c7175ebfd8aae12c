package errors

import "fmt"

// Error codes for the service core. Keep stable; used across queues, bundles, buses and adapters.
const (
	ErrCodeQueueClosed         = "servicequeue.closed"
	ErrCodeQueueFull           = "servicequeue.full"
	ErrCodeAlreadyStarted      = "servicequeue.already_started"
	ErrCodeMethodNotFound      = "servicequeue.method_not_found"
	ErrCodeHandlerTypeMismatch = "servicequeue.handler_type_mismatch"
	ErrCodeInvocationFailed    = "servicequeue.invocation_failed"
	ErrCodeDuplicateAddress    = "servicebundle.duplicate_address"
	ErrCodeNoRoute             = "servicebundle.no_route"
	ErrCodeDeliveryFailed      = "eventbus.delivery_failed"
	ErrCodeInvalidDefinition   = "servicepool.invalid_definition"
	ErrCodePublishFailed       = "adapter.publish_failed"
	ErrCodeSerializationFailed = "adapter.serialization_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrQueueClosed         = Code(ErrCodeQueueClosed)
	ErrQueueFull           = Code(ErrCodeQueueFull)
	ErrAlreadyStarted      = Code(ErrCodeAlreadyStarted)
	ErrMethodNotFound      = Code(ErrCodeMethodNotFound)
	ErrHandlerTypeMismatch = Code(ErrCodeHandlerTypeMismatch)
	ErrInvocationFailed    = Code(ErrCodeInvocationFailed)
	ErrDuplicateAddress    = Code(ErrCodeDuplicateAddress)
	ErrNoRoute             = Code(ErrCodeNoRoute)
	ErrDeliveryFailed      = Code(ErrCodeDeliveryFailed)
	ErrInvalidDefinition   = Code(ErrCodeInvalidDefinition)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
)

// InvocationError is the error a handler produced (or the panic it raised) while
// serving a call. It is carried as the body of a Response with wasErrors set.
type InvocationError struct {
	Method string
	Err    error
}

// NewInvocationError wraps err for method. A nil err yields nil.
func NewInvocationError(method string, err error) error {
	if err == nil {
		return nil
	}

	return &InvocationError{Method: method, Err: err}
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: method %q: %v", ErrCodeInvocationFailed, e.Method, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Is reports ErrInvocationFailed as a match so callers can test the category
// without caring about the underlying cause.
func (e *InvocationError) Is(target error) bool { return target == ErrInvocationFailed }
