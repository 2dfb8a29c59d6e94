// Package scheduler drives collection runs through the three-phase job
// graph: discover expiries, enumerate contracts, fetch candle series.
//
// Each phase's results are persisted before its children are enqueued and
// before the parent unit is marked done, so the graph can be rebuilt from
// the store after a crash without losing or duplicating work.
package scheduler
