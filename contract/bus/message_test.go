package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

func TestNewCall_DefaultsAndOptions(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := cbus.NewCall("/root/emp/add", 10,
		cbus.WithReturnAddress("client-1"),
		cbus.WithParams(cbus.Param{Key: "b", Value: "2"}, cbus.Param{Key: "a", Value: "1"}),
		cbus.WithTimestamp(ts),
	)

	require.NotEmpty(t, c.ID())
	require.Equal(t, "/root/emp/add", c.Address())
	require.Equal(t, "client-1", c.ReturnAddress())
	require.True(t, c.ExpectsResponse())
	require.Equal(t, ts, c.Timestamp())
	require.Equal(t, []string{"b", "a"}, c.Params().Keys())

	v, ok := c.Params().Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	other := cbus.NewCall("/x", nil)
	require.NotEqual(t, c.ID(), other.ID())
	require.False(t, other.ExpectsResponse())
}

func TestCall_IsImmutable(t *testing.T) {
	params := []cbus.Param{{Key: "k", Value: "v"}}
	c := cbus.NewCall("/a", nil, cbus.WithParams(params...))

	params[0].Value = "changed"
	got := c.Params()
	got[0].Value = "changed too"

	v, _ := c.Params().Get("k")
	require.Equal(t, "v", v)

	m := c.WithMethod("read")
	require.Equal(t, "", c.Method())
	require.Equal(t, "read", m.Method())
	require.Equal(t, c.ID(), m.ID())
}

func TestCall_Args(t *testing.T) {
	require.Nil(t, cbus.NewCall("/a", nil).Args())
	require.Equal(t, []any{1}, cbus.NewCall("/a", 1).Args())
	require.Equal(t, []any{1, "x"}, cbus.NewCall("/a", []any{1, "x"}).Args())
}

func TestResponse_Correlation(t *testing.T) {
	c := cbus.NewCall("/root/emp/add", 1, cbus.WithReturnAddress("ret"))

	ok := cbus.NewResponse(c, true)
	require.Equal(t, c.ID(), ok.ID())
	require.Equal(t, "ret", ok.ReturnAddress())
	require.Equal(t, true, ok.Body())
	require.False(t, ok.WasErrors())
	require.NoError(t, ok.Err())

	boom := errors.New("boom")
	bad := cbus.NewErrorResponse(c, boom)
	require.True(t, bad.WasErrors())
	require.ErrorIs(t, bad.Err(), boom)
	require.Equal(t, c.ID(), bad.ID())
}

func TestMethods_Fallback(t *testing.T) {
	m := cbus.Methods{
		"add": func(context.Context, cbus.Call) (any, error) { return "add", nil },
		"":    func(context.Context, cbus.Call) (any, error) { return "fallback", nil },
	}

	f, ok := m.Method("add")
	require.True(t, ok)
	v, _ := f(t.Context(), cbus.Call{})
	require.Equal(t, "add", v)

	f, ok = m.Method("unknown")
	require.True(t, ok)
	v, _ = f(t.Context(), cbus.Call{})
	require.Equal(t, "fallback", v)

	require.Equal(t, []string{"add"}, m.MethodNames())

	_, ok = cbus.Methods{}.Method("x")
	require.False(t, ok)
}
