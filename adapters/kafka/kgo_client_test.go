//go:build franz

package kafka_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-service-core/adapters/kafka"
	berr "github.com/next-trace/scg-service-core/contract/errors"
)

func TestNewWithKgo_NoBrokers(t *testing.T) {
	_, _, err := kafka.NewWithKgo(kafka.Config{}, nil)
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}
