package errors_test

import (
	"errors"
	"testing"

	berr "github.com/next-trace/scg-service-core/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrQueueClosed, berr.ErrCodeQueueClosed},
		{berr.ErrQueueFull, berr.ErrCodeQueueFull},
		{berr.ErrAlreadyStarted, berr.ErrCodeAlreadyStarted},
		{berr.ErrMethodNotFound, berr.ErrCodeMethodNotFound},
		{berr.ErrHandlerTypeMismatch, berr.ErrCodeHandlerTypeMismatch},
		{berr.ErrInvocationFailed, berr.ErrCodeInvocationFailed},
		{berr.ErrDuplicateAddress, berr.ErrCodeDuplicateAddress},
		{berr.ErrNoRoute, berr.ErrCodeNoRoute},
		{berr.ErrDeliveryFailed, berr.ErrCodeDeliveryFailed},
		{berr.ErrInvalidDefinition, berr.ErrCodeInvalidDefinition},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestInvocationError(t *testing.T) {
	cause := errors.New("boom")
	err := berr.NewInvocationError("add", cause)

	if !errors.Is(err, berr.ErrInvocationFailed) {
		t.Fatalf("want ErrInvocationFailed, got %v", err)
	}

	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped: %v", err)
	}

	var ie *berr.InvocationError
	if !errors.As(err, &ie) || ie.Method != "add" {
		t.Fatalf("errors.As failed: %#v", err)
	}

	if berr.NewInvocationError("add", nil) != nil {
		t.Fatalf("nil cause must yield nil error")
	}
}
