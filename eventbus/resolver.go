package eventbus

import (
	"fmt"
	"strings"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

// ChannelName joins the non-empty parts with '.'. The method part is required; without it there
// is no channel and "" is returned.
func ChannelName(prefix, group, method string) string {
	if method == "" {
		return ""
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, group, method} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return strings.Join(parts, ".")
}

// ChannelDeclarer is implemented by handlers that name their own event channels,
// keyed by method id.
type ChannelDeclarer interface {
	EventChannels() map[string]string
}

// DeclaredResolver resolves channels declared by the handler itself.
type DeclaredResolver struct{}

func (DeclaredResolver) Resolve(handler any) (map[string]string, error) {
	d, ok := handler.(ChannelDeclarer)
	if !ok {
		return nil, fmt.Errorf("resolve %T: handler declares no event channels", handler)
	}

	out := make(map[string]string, len(d.EventChannels()))
	for m, ch := range d.EventChannels() {
		out[m] = ch
	}

	return out, nil
}

// PrefixResolver maps every method of a cbus.MethodLister to ChannelName(Prefix, Group, method).
type PrefixResolver struct {
	Prefix string
	Group  string
}

func (r PrefixResolver) Resolve(handler any) (map[string]string, error) {
	l, ok := handler.(cbus.MethodLister)
	if !ok {
		return nil, fmt.Errorf("resolve %T: handler does not list its methods", handler)
	}

	out := map[string]string{}
	for _, m := range l.MethodNames() {
		out[m] = ChannelName(r.Prefix, r.Group, m)
	}

	return out, nil
}

// StaticResolver returns a fixed method-to-channel map, typically loaded from configuration.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(any) (map[string]string, error) {
	out := make(map[string]string, len(r))
	for m, ch := range r {
		out[m] = ch
	}

	return out, nil
}

var (
	_ cbus.ChannelResolver = DeclaredResolver{}
	_ cbus.ChannelResolver = PrefixResolver{}
	_ cbus.ChannelResolver = StaticResolver(nil)
)
