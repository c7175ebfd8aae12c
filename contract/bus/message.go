package bus

import (
	"time"

	"github.com/nats-io/nuid"
)

// Param is a single key/value pair carried by a Call.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered string map. Insertion order is preserved and repeated keys are allowed;
// Get returns the first match.
type Params []Param

// Get returns the first value stored under key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return "", false
}

// Keys returns the keys in insertion order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, kv := range p {
		keys = append(keys, kv.Key)
	}

	return keys
}

func (p Params) clone() Params {
	if len(p) == 0 {
		return nil
	}

	out := make(Params, len(p))
	copy(out, p)

	return out
}

// Call is an addressed request for a service operation. It is immutable once built;
// use NewCall and the accessors.
type Call struct {
	id            string
	address       string
	returnAddress string
	method        string
	body          any
	params        Params
	timestamp     time.Time
}

// CallOption configures a Call at construction.
type CallOption func(*Call)

// WithReturnAddress sets the logical recipient of the Response. Empty means fire-and-forget.
func WithReturnAddress(addr string) CallOption { return func(c *Call) { c.returnAddress = addr } }

// WithMethod sets the method designator resolved by the caller.
func WithMethod(method string) CallOption { return func(c *Call) { c.method = method } }

// WithParams attaches ordered parameters. The slice is copied.
func WithParams(params ...Param) CallOption {
	return func(c *Call) { c.params = Params(params).clone() }
}

// WithCallID overrides the generated id.
func WithCallID(id string) CallOption { return func(c *Call) { c.id = id } }

// WithTimestamp overrides the construction time.
func WithTimestamp(ts time.Time) CallOption { return func(c *Call) { c.timestamp = ts } }

// NewCall builds a Call for address carrying body.
func NewCall(address string, body any, opts ...CallOption) Call {
	c := Call{address: address, body: body}
	for _, o := range opts {
		o(&c)
	}

	if c.id == "" {
		c.id = nuid.Next()
	}

	if c.timestamp.IsZero() {
		c.timestamp = time.Now()
	}

	return c
}

func (c Call) ID() string            { return c.id }
func (c Call) Address() string       { return c.address }
func (c Call) ReturnAddress() string { return c.returnAddress }
func (c Call) Method() string        { return c.method }
func (c Call) Body() any             { return c.body }
func (c Call) Timestamp() time.Time  { return c.timestamp }

// Params returns a copy of the call parameters.
func (c Call) Params() Params { return c.params.clone() }

// ExpectsResponse reports whether a Response must be produced for this call.
func (c Call) ExpectsResponse() bool { return c.returnAddress != "" }

// WithMethod returns a copy of c carrying method. The receiver is unchanged.
func (c Call) WithMethod(method string) Call {
	c.method = method
	c.params = c.params.clone()

	return c
}

// Args returns the body as an argument list. Event deliveries carry []any;
// any other body is returned as a single argument.
func (c Call) Args() []any {
	switch b := c.body.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(b))
		copy(out, b)

		return out
	default:
		return []any{b}
	}
}

// Response is the correlated result of a Call.
type Response struct {
	id            string
	address       string
	returnAddress string
	body          any
	wasErrors     bool
	timestamp     time.Time
}

// NewResponse correlates body with call.
func NewResponse(call Call, body any) Response {
	return Response{
		id:            call.id,
		address:       call.address,
		returnAddress: call.returnAddress,
		body:          body,
		timestamp:     time.Now(),
	}
}

// NewErrorResponse correlates err with call and marks the response as failed.
func NewErrorResponse(call Call, err error) Response {
	r := NewResponse(call, err)
	r.wasErrors = true

	return r
}

func (r Response) ID() string            { return r.id }
func (r Response) Address() string       { return r.address }
func (r Response) ReturnAddress() string { return r.returnAddress }
func (r Response) Body() any             { return r.body }
func (r Response) WasErrors() bool       { return r.wasErrors }
func (r Response) Timestamp() time.Time  { return r.timestamp }

// Err returns the captured error of a failed response, nil otherwise.
func (r Response) Err() error {
	if !r.wasErrors {
		return nil
	}

	if err, ok := r.body.(error); ok {
		return err
	}

	return nil
}
