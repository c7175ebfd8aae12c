package memberlist

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"

	ml "github.com/hashicorp/memberlist"

	"github.com/next-trace/scg-service-core/servicepool"
)

// Meta is what a node gossips about the service it runs.
type Meta struct {
	Service  string            `json:"service"`
	Port     int               `json:"port,omitempty"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (m Meta) encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	if len(b) > ml.MetaMaxSize {
		return nil, fmt.Errorf("node meta is %d bytes, limit %d", len(b), ml.MetaMaxSize)
	}

	return b, nil
}

// Group turns a membership list into one definition set per service. Nodes without meta, or
// whose meta does not name a service, are ignored.
func Group(nodes []*ml.Node) map[string][]servicepool.Definition {
	out := map[string][]servicepool.Definition{}

	for _, n := range nodes {
		if n == nil || len(n.Meta) == 0 {
			continue
		}

		var m Meta
		if err := json.Unmarshal(n.Meta, &m); err != nil || m.Service == "" {
			continue
		}

		port := m.Port
		if port == 0 {
			port = int(n.Port)
		}

		host := ""
		if n.Addr != nil {
			host = n.Addr.String()
		}

		md := map[string]string{"node": n.Name}
		for k, v := range m.Metadata {
			md[k] = v
		}

		out[m.Service] = append(out[m.Service], servicepool.Definition{
			ID:          n.Name,
			ServiceName: m.Service,
			Host:        host,
			Port:        port,
			Version:     m.Version,
			Metadata:    md,
		})
	}

	for _, defs := range out {
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	}

	return out
}

// hostPort formats a node's gossip address for Join.
func hostPort(n *ml.Node) string {
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}
