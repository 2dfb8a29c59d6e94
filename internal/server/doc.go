// Package server exposes the control API: starting, observing, and
// cancelling collection runs, plus health, metrics, and a live rate
// limiter view.
package server
