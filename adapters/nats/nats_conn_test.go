package nats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-core/adapters/nats"
	berr "github.com/next-trace/scg-service-core/contract/errors"
)

func TestNewWithNATS_ConnectFailures(t *testing.T) {
	for name, cfg := range map[string]nats.Config{
		"no url":      {},
		"unreachable": {URL: "nats://127.0.0.1:1", ConnTimeout: 100 * time.Millisecond, MaxReconnects: 0},
	} {
		t.Run(name, func(t *testing.T) {
			b, cleanup, err := nats.NewWithNATS(cfg, []string{"employee.new"})
			require.ErrorIs(t, err, berr.ErrPublishFailed)
			require.Nil(t, b)
			require.Nil(t, cleanup)
		})
	}
}

func TestNewWithNATS_CleanupClosesBridge(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded nats server")
	}

	s := runServer(t)

	b, cleanup, err := nats.NewWithNATS(nats.Config{URL: s.ClientURL(), Name: "cleanup-test"}, []string{"a"})
	require.NoError(t, err)

	cleanup()
	cleanup()

	require.ErrorIs(t, b.Import(nil, "a"), berr.ErrPublishFailed)
}
