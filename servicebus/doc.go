// Package servicebus wires a service bundle, an event bus, a pool registry and any broker
// bridges into one System with a single start and a two-phase shutdown.
package servicebus
