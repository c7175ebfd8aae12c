package servicepool

import (
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	berr "github.com/next-trace/scg-service-core/contract/errors"
)

// Definition describes one live instance of a logical service. Identity is ID.
type Definition struct {
	ID          string            `json:"id" validate:"required"`
	ServiceName string            `json:"serviceName"`
	Host        string            `json:"host,omitempty"`
	Port        int               `json:"port,omitempty"`
	Version     string            `json:"version,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewDefinition builds a definition whose id is derived from name, host and port.
func NewDefinition(name, host string, port int) Definition {
	return Definition{
		ID:          name + "-" + host + "-" + strconv.Itoa(port),
		ServiceName: name,
		Host:        host,
		Port:        port,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	return validate
}

// Validate reports whether the pool can key d. Everything but ID is opaque to the pool.
func (d Definition) Validate() error {
	if err := validatorInstance().Struct(d); err != nil {
		return fmt.Errorf("%w: %q: %w", berr.ErrInvalidDefinition, d.ID, err)
	}

	return nil
}

// SemVer parses Version. Definitions without a version report ok=false.
func (d Definition) SemVer() (*semver.Version, bool) {
	if d.Version == "" {
		return nil, false
	}

	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return nil, false
	}

	return v, true
}

func (d Definition) clone() Definition {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}
