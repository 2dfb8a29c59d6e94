package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Instrument & Contract Types
// -----------------------------------------------------------------------------

// Instrument identifies an underlying whose expired contracts are collected.
type Instrument struct {
	InstrumentKey string // Upstream identifier (e.g., "NSE_INDEX|Nifty 50")
	Symbol        string // Display symbol (e.g., "Nifty 50")
	Segment       string // Exchange segment (e.g., "NSE_INDEX")
}

// ContractKind distinguishes option and future contracts.
type ContractKind string

const (
	ContractOption ContractKind = "option"
	ContractFuture ContractKind = "future"
)

// Contract describes one expired derivative contract.
type Contract struct {
	ContractKey   string       // Upstream key for the expired contract
	InstrumentKey string       // Parent instrument
	TradingSymbol string       // Human-readable symbol
	Expiry        string       // Expiry date (YYYY-MM-DD)
	Kind          ContractKind // option or future
	Strike        float64      // Strike price; 0 for futures
	OptionType    string       // "CE" or "PE"; empty for futures
}

// Candle is one OHLCV+OI point of a contract's historical series.
type Candle struct {
	Ts           int64 // Candle timestamp (µs since epoch)
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

// CandleRecord is a candle bound to its contract and interval, ready for
// the batch writer.
type CandleRecord struct {
	ContractKey string
	Interval    string
	Candle      Candle
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

// Phase identifies one stage of the collection job graph.
type Phase string

const (
	PhaseDiscoverExpiries   Phase = "discover_expiries"
	PhaseEnumerateContracts Phase = "enumerate_contracts"
	PhaseFetchSeries        Phase = "fetch_series"
)

// Phases lists all phases in dependency order.
var Phases = []Phase{PhaseDiscoverExpiries, PhaseEnumerateContracts, PhaseFetchSeries}

// Rank returns the position of the phase in dependency order, or -1 for an
// unknown phase.
func (p Phase) Rank() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// UnitStatus is the lifecycle state of a unit of work.
type UnitStatus string

const (
	UnitPending  UnitStatus = "pending"
	UnitInFlight UnitStatus = "in_flight"
	UnitDone     UnitStatus = "done"
	UnitFailed   UnitStatus = "failed"
)

// Unit is one schedulable, independently retryable fetch task.
type Unit struct {
	RunID       uuid.UUID
	Phase       Phase
	Key         string // Composite key; see JoinKey
	ParentKey   string // Key of the unit whose result spawned this one
	Status      UnitStatus
	Attempts    int
	LastError   string
	NextRetryAt time.Time // Zero when eligible immediately
}

// keySep separates the parts of a composite unit key. Upstream instrument
// keys contain '|' but never '~'.
const keySep = "~"

// JoinKey builds a composite unit key from its parts.
func JoinKey(parts ...string) string {
	return strings.Join(parts, keySep)
}

// SplitKey splits a composite unit key back into its parts.
func SplitKey(key string) []string {
	return strings.Split(key, keySep)
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// Selection names the instruments a run collects.
type Selection struct {
	InstrumentKeys []string `json:"instrument_keys"`
}

// RunOptions are the per-run collection parameters.
type RunOptions struct {
	MonthsBack  int    `json:"months_back"`
	Interval    string `json:"interval"`
	Concurrency int    `json:"concurrency"`
}

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunRunning              RunStatus = "running"
	RunComplete             RunStatus = "complete"
	RunCompleteWithFailures RunStatus = "complete_with_failures"
	RunCancelled            RunStatus = "cancelled"
	RunFailed               RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// Run is one collection run over a selection of instruments.
type Run struct {
	ID        uuid.UUID
	Selection Selection
	Options   RunOptions
	Status    RunStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunCounts summarizes unit states for a run.
type RunCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`

	// ByPhase holds per-phase incomplete (pending + in-flight) counts,
	// used to report the active phase.
	ByPhase map[Phase]int `json:"-"`
}

// Total returns the number of units in the run.
func (c RunCounts) Total() int {
	return c.Pending + c.InFlight + c.Done + c.Failed
}

// Remaining returns the number of units not yet in a terminal state.
func (c RunCounts) Remaining() int {
	return c.Pending + c.InFlight
}

// ActivePhase returns the earliest phase that still has incomplete units,
// or the last phase when everything is terminal.
func (c RunCounts) ActivePhase() Phase {
	for _, p := range Phases {
		if c.ByPhase[p] > 0 {
			return p
		}
	}
	return Phases[len(Phases)-1]
}

// RunProgress is the poll-friendly progress view exposed to callers.
type RunProgress struct {
	RunID   uuid.UUID `json:"run_id"`
	Status  RunStatus `json:"status"`
	Phase   Phase     `json:"phase"`
	Percent float64   `json:"percent"`
	Counts  RunCounts `json:"counts"`
}
