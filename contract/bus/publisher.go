package bus

// ResponseSink receives Responses emitted by a queue consumer. Emit is called from the
// consumer goroutine and must not block for long.
type ResponseSink interface {
	Emit(responses ...Response)
}

// ResponseSinkFunc adapts a function to ResponseSink.
type ResponseSinkFunc func(responses ...Response)

func (f ResponseSinkFunc) Emit(responses ...Response) { f(responses...) }
