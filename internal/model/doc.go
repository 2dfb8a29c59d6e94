// Package model defines the domain types shared across the collector:
// instruments, contracts, candles, units of work and run state.
//
// Types here carry no behavior beyond key construction and simple
// derivations; persistence and transport concerns live in their own
// packages.
package model
