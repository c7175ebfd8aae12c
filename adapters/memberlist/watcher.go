// Package memberlist keeps a servicepool.Registry in step with a gossip cluster. Every node
// advertises the service it runs in its node meta; each membership change re-syncs the registry.
package memberlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ml "github.com/hashicorp/memberlist"
	"gopkg.in/tomb.v2"

	"github.com/next-trace/scg-service-core/internal/telemetry"
	"github.com/next-trace/scg-service-core/servicepool"
)

// Profiles select the memberlist timing defaults.
const (
	ProfileLAN   = "lan"
	ProfileWAN   = "wan"
	ProfileLocal = "local"
)

type Config struct {
	NodeName string
	BindAddr string
	BindPort int
	Profile  string
	// Join lists host:port seeds tried on Start. Empty starts a new cluster.
	Join []string
	// Resync forces a full reconcile at this interval on top of event-driven ones. Zero disables it.
	Resync time.Duration
	// LeaveTimeout bounds the graceful leave on Stop.
	LeaveTimeout time.Duration
	Meta         Meta
}

func (c Config) memberlist() *ml.Config {
	var mc *ml.Config

	switch c.Profile {
	case ProfileWAN:
		mc = ml.DefaultWANConfig()
	case ProfileLocal:
		mc = ml.DefaultLocalConfig()
	default:
		mc = ml.DefaultLANConfig()
	}

	if c.NodeName != "" {
		mc.Name = c.NodeName
	}

	if c.BindAddr != "" {
		mc.BindAddr = c.BindAddr
		mc.AdvertiseAddr = c.BindAddr
	}

	mc.BindPort = c.BindPort
	mc.AdvertisePort = c.BindPort

	return mc
}

// delegate serves the node meta; the rest of memberlist.Delegate is unused.
type delegate struct{ meta []byte }

func (d delegate) NodeMeta(int) []byte           { return d.meta }
func (delegate) NotifyMsg([]byte)                {}
func (delegate) GetBroadcasts(int, int) [][]byte { return nil }
func (delegate) LocalState(bool) []byte          { return nil }
func (delegate) MergeRemoteState([]byte, bool)   {}

// events only signals the reconcile loop. Calling back into memberlist from here would deadlock.
type events struct {
	logger *slog.Logger
	kick   chan struct{}
}

func (e *events) signal() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *events) NotifyJoin(n *ml.Node) {
	e.logger.Info("peer joined cluster", "node", n.Name, "addr", hostPort(n))
	e.signal()
}

func (e *events) NotifyLeave(n *ml.Node) {
	e.logger.Info("peer left cluster", "node", n.Name, "addr", hostPort(n))
	e.signal()
}

func (e *events) NotifyUpdate(n *ml.Node) {
	e.logger.Debug("peer updated", "node", n.Name)
	e.signal()
}

// Watcher runs one gossip member and mirrors the cluster into a registry.
type Watcher struct {
	cfg      Config
	registry *servicepool.Registry
	logger   *slog.Logger
	events   *events

	mu    sync.Mutex
	list  *ml.Memberlist
	t     tomb.Tomb
	state int
}

const (
	stateNew = iota
	stateRunning
	stateStopped
)

// ErrNotRunning is returned by operations that need a started Watcher.
var ErrNotRunning = errors.New("memberlist: watcher not running")

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New prepares a watcher. Nothing touches the network until Start.
func New(cfg Config, registry *servicepool.Registry, opts ...Option) *Watcher {
	w := &Watcher{cfg: cfg, registry: registry}
	for _, o := range opts {
		o(w)
	}

	w.logger = telemetry.LoggerOrDefault(w.logger).With(telemetry.LabelBridge.L("memberlist"))
	w.events = &events{logger: w.logger, kick: make(chan struct{}, 1)}

	return w
}

// Start creates the local member, joins the seeds and starts reconciling.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateNew {
		return fmt.Errorf("memberlist: start called twice")
	}

	meta, err := w.cfg.Meta.encode()
	if err != nil {
		return fmt.Errorf("memberlist: %w", err)
	}

	mc := w.cfg.memberlist()
	mc.Delegate = delegate{meta: meta}
	mc.Events = w.events
	mc.LogOutput = nil
	mc.Logger = slog.NewLogLogger(w.logger.Handler(), slog.LevelDebug)

	list, err := ml.Create(mc)
	if err != nil {
		return fmt.Errorf("memberlist: create: %w", err)
	}

	if len(w.cfg.Join) > 0 {
		if _, err := list.Join(w.cfg.Join); err != nil {
			_ = list.Shutdown()
			return fmt.Errorf("memberlist: join %v: %w", w.cfg.Join, err)
		}
	}

	w.list = list
	w.state = stateRunning
	w.events.signal()
	w.t.Go(w.loop)

	return nil
}

func (w *Watcher) loop() error {
	var tick <-chan time.Time

	if w.cfg.Resync > 0 {
		t := time.NewTicker(w.cfg.Resync)
		defer t.Stop()

		tick = t.C
	}

	for {
		select {
		case <-w.t.Dying():
			return nil
		case <-w.events.kick:
		case <-tick:
		}

		w.Reconcile()
	}
}

// Reconcile syncs the registry with the current membership and returns the changed services.
func (w *Watcher) Reconcile() []string {
	w.mu.Lock()
	list := w.list
	w.mu.Unlock()

	if list == nil {
		return nil
	}

	changed := w.registry.Sync(Group(list.Members()))
	if len(changed) > 0 {
		w.logger.Debug("registry synced", "changed", changed)
	}

	return changed
}

// Addr is the host:port other nodes join.
func (w *Watcher) Addr() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.list == nil {
		return "", ErrNotRunning
	}

	return hostPort(w.list.LocalNode()), nil
}

// Members returns the number of live members including this one.
func (w *Watcher) Members() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.list == nil {
		return 0
	}

	return w.list.NumMembers()
}

// Stop leaves the cluster gracefully, shuts the member down and stops reconciling.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state != stateRunning {
		w.state = stateStopped
		w.mu.Unlock()

		return nil
	}

	w.state = stateStopped
	list := w.list
	w.list = nil
	w.mu.Unlock()

	timeout := w.cfg.LeaveTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}

	var errs []error
	if err := list.Leave(timeout); err != nil {
		errs = append(errs, fmt.Errorf("memberlist: leave: %w", err))
	}

	if err := list.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("memberlist: shutdown: %w", err))
	}

	w.t.Kill(nil)

	select {
	case <-w.t.Dead():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}
