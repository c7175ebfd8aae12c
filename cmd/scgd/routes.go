package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/employee"
	"github.com/next-trace/scg-service-core/internal/telemetry"
	"github.com/next-trace/scg-service-core/servicebus"
	"github.com/next-trace/scg-service-core/servicepool"
	"github.com/next-trace/scg-service-core/servicequeue"
)

// askTimeout bounds every request that waits on a service queue.
const askTimeout = 5 * time.Second

type api struct {
	sys    *servicebus.System
	logger *slog.Logger
}

func newRouter(sys *servicebus.System, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	a := &api{sys: sys, logger: telemetry.LoggerOrDefault(logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	r.Get("/queues", a.queues)
	r.Route("/pools", func(r chi.Router) {
		r.Get("/", a.pools)
		r.Get("/{name}", a.pool)
	})
	r.Post("/events/{channel}", a.send)

	r.Route("/employees", func(r chi.Router) {
		r.Post("/", a.hire)
		r.Get("/{id}", a.readEmployee)
	})

	return r
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, status int, err error) {
	sendJSON(w, status, map[string]string{"error": err.Error()})
}

// statusOf maps bus failures to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, berr.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, berr.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-a.sys.Done():
		sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
	default:
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type queueView struct {
	Address   string   `json:"address"`
	Processed uint64   `json:"processed"`
	Failed    uint64   `json:"failed"`
	Pending   int      `json:"pending"`
	Channels  []string `json:"channels,omitempty"`
}

func (a *api) queues(w http.ResponseWriter, _ *http.Request) {
	b := a.sys.Bundle()
	out := []queueView{}

	for _, addr := range b.Addresses() {
		q, ok := b.Queue(addr)
		if !ok {
			continue
		}

		st := q.Stats()
		out = append(out, queueView{
			Address:   addr,
			Processed: st.Processed,
			Failed:    st.Failed,
			Pending:   st.Pending,
			Channels:  q.Channels(),
		})
	}

	sendJSON(w, http.StatusOK, out)
}

func (a *api) pools(w http.ResponseWriter, _ *http.Request) {
	reg := a.sys.Pools()
	out := map[string][]servicepool.Definition{}

	for _, name := range reg.Names() {
		p, _ := reg.Lookup(name)
		out[name] = p.Services()
	}

	sendJSON(w, http.StatusOK, out)
}

func (a *api) pool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	p, ok := a.sys.Pools().Lookup(name)
	if !ok {
		sendError(w, http.StatusNotFound, errors.New("unknown service "+name))
		return
	}

	sendJSON(w, http.StatusOK, p.Services())
}

// send publishes the JSON array in the body as the args of an event on channel.
func (a *api) send(w http.ResponseWriter, r *http.Request) {
	var args []any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}

	channel := chi.URLParam(r, "channel")
	if err := a.sys.Send(r.Context(), channel, args...); err != nil {
		// Local consumers still got the event; only the failing ones are reported.
		a.logger.Warn("event not fully delivered", telemetry.LabelChannel.L(channel), telemetry.LabelError.L(err))
		sendError(w, http.StatusBadGateway, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *api) queue(w http.ResponseWriter, addr string) (*servicequeue.Queue, bool) {
	q, ok := a.sys.Bundle().Queue(addr)
	if !ok {
		sendError(w, http.StatusServiceUnavailable, errors.New("no service at "+addr))
	}

	return q, ok
}

// hire stores the employee in the directory and runs the hiring flow for it.
func (a *api) hire(w http.ResponseWriter, r *http.Request) {
	var e employee.Employee
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}

	dir, ok := a.queue(w, employee.AddressDirectory)
	if !ok {
		return
	}

	hiring, ok := a.queue(w, employee.AddressHiring)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()

	if _, err := dir.Ask(ctx, "addEmployee", e); err != nil {
		sendError(w, statusOf(err), err)
		return
	}

	if _, err := hiring.Ask(ctx, "hireEmployee", e); err != nil {
		sendError(w, statusOf(err), err)
		return
	}

	sendJSON(w, http.StatusCreated, e)
}

func (a *api) readEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}

	dir, ok := a.queue(w, employee.AddressDirectory)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()

	e, err := servicequeue.Ask[employee.Employee](ctx, dir, "readEmployee", id)
	if err != nil {
		sendError(w, statusOf(err), err)
		return
	}

	if e.ID == 0 && e.FirstName == "" {
		sendError(w, http.StatusNotFound, employee.ErrUnknownEmployee)
		return
	}

	sendJSON(w, http.StatusOK, e)
}
