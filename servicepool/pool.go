package servicepool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// snapshot is never mutated after it is published.
type snapshot struct {
	byID    map[string]Definition
	ordered []Definition
}

var emptySnapshot = &snapshot{byID: map[string]Definition{}}

// Pool tracks the live instances of one logical service. The set is only ever replaced whole,
// so readers always see one consistent snapshot without taking a lock.
type Pool struct {
	name string

	// mu serializes SetHealthyNodes so counts always match the swap that follows them.
	mu        sync.Mutex
	listeners []Listener
	current   atomic.Pointer[snapshot]
	next      atomic.Uint64

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

// Option configures a Pool.
type Option func(*Pool)

// WithListener adds a listener. Listeners are notified in the order added.
func WithListener(l Listener) Option {
	return func(p *Pool) {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

// WithMetricSink sets where pool metrics go.
func WithMetricSink(ms metrics.MetricSink) Option { return func(p *Pool) { p.msink = ms } }

// New creates an empty pool for serviceName.
func New(serviceName string, opts ...Option) *Pool {
	p := &Pool{name: serviceName}
	for _, o := range opts {
		o(p)
	}

	p.logger = telemetry.LoggerOrDefault(p.logger).With(telemetry.LabelService.L(serviceName))
	p.msink = telemetry.SinkOrBlackhole(p.msink)
	p.labels = telemetry.Labels(p.labels, telemetry.LabelService.M(serviceName))
	p.current.Store(emptySnapshot)

	return p
}

// Name returns the logical service name.
func (p *Pool) Name() string { return p.name }

// AddListener registers l for subsequent updates.
func (p *Pool) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners = append(p.listeners, l)
}

// SetHealthyNodes replaces the pool with defs and reports whether anything changed.
// Definitions without an ID are dropped and logged; for duplicate ids the last one wins.
func (p *Pool) SetHealthyNodes(defs []Definition) bool {
	return p.SetHealthyNodesWith(defs, nil)
}

// SetHealthyNodesWith is SetHealthyNodes that notifies l instead of the registered listeners
// for this update only. A nil l falls back to the registered listeners.
func (p *Pool) SetHealthyNodesWith(defs []Definition, l Listener) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	listeners := p.listeners
	if l != nil {
		listeners = []Listener{l}
	}

	old := p.current.Load()
	next := p.build(defs)

	added := 0
	for _, d := range next.ordered {
		if _, ok := old.byID[d.ID]; ok {
			continue
		}

		added++
		p.notify(listeners, "ServiceAdded", func(l Listener) { l.ServiceAdded(p.name, d.clone()) })
	}

	removed := 0
	for _, d := range old.ordered {
		if _, ok := next.byID[d.ID]; ok {
			continue
		}

		removed++
		p.notify(listeners, "ServiceRemoved", func(l Listener) { l.ServiceRemoved(p.name, d.clone()) })
	}

	p.current.Store(next)

	p.msink.SetGaugeWithLabels(telemetry.MetricPoolSize, float32(len(next.ordered)), p.labels)

	if removed > 0 {
		p.msink.IncrCounterWithLabels(telemetry.MetricPoolRemovedCount, float32(removed), p.labels)
		// The removed count, independent of added.
		p.notify(listeners, "ServicesRemoved", func(l Listener) { l.ServicesRemoved(p.name, removed) })
	}

	if added > 0 {
		p.msink.IncrCounterWithLabels(telemetry.MetricPoolAddedCount, float32(added), p.labels)
		p.notify(listeners, "ServicesAdded", func(l Listener) { l.ServicesAdded(p.name, added) })
	}

	changed := added > 0 || removed > 0
	if changed {
		p.notify(listeners, "ServicePoolChanged", func(l Listener) { l.ServicePoolChanged(p.name) })
	}

	return changed
}

func (p *Pool) build(defs []Definition) *snapshot {
	byID := make(map[string]Definition, len(defs))

	for _, d := range defs {
		if err := d.Validate(); err != nil {
			p.msink.IncrCounterWithLabels(telemetry.MetricPoolRejectedCount, 1, p.labels)
			p.logger.Warn("definition rejected", telemetry.LabelError.L(err))

			continue
		}

		byID[d.ID] = d.clone()
	}

	ordered := make([]Definition, 0, len(byID))
	for _, d := range byID {
		ordered = append(ordered, d)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	return &snapshot{byID: byID, ordered: ordered}
}

// notify calls fn for every listener; a panicking listener is logged and skipped.
func (p *Pool) notify(listeners []Listener, event string, fn func(Listener)) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("pool listener failed",
						"event", event,
						"listener", fmt.Sprintf("%T", l),
						telemetry.LabelError.L(r),
					)
				}
			}()
			fn(l)
		}()
	}
}

// Services returns the current instances sorted by id.
func (p *Pool) Services() []Definition {
	snap := p.current.Load()

	out := make([]Definition, len(snap.ordered))
	for i, d := range snap.ordered {
		out[i] = d.clone()
	}

	return out
}

// Service looks an instance up by id.
func (p *Pool) Service(id string) (Definition, bool) {
	d, ok := p.current.Load().byID[id]
	if !ok {
		return Definition{}, false
	}

	return d.clone(), true
}

// Size returns the number of live instances.
func (p *Pool) Size() int { return len(p.current.Load().ordered) }

// Pick returns the next instance in round-robin order.
func (p *Pool) Pick() (Definition, bool) {
	snap := p.current.Load()
	if len(snap.ordered) == 0 {
		return Definition{}, false
	}

	i := p.next.Add(1) - 1

	return snap.ordered[i%uint64(len(snap.ordered))].clone(), true
}

// Matching returns the instances whose version satisfies constraint, e.g. "^1.2".
// Instances without a parseable version never match.
func (p *Pool) Matching(constraint string) ([]Definition, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("constraint %q: %w", constraint, err)
	}

	var out []Definition
	for _, d := range p.current.Load().ordered {
		if v, ok := d.SemVer(); ok && c.Check(v) {
			out = append(out, d.clone())
		}
	}

	return out, nil
}
