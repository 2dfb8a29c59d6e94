// Package writer batches candle records from the fetch workers into
// PostgreSQL upserts.
//
// Delivery is at least once: a unit of work is only marked done after its
// candles were handed to the writer, so a crash between hand-off and flush
// re-fetches the unit and the upsert absorbs the duplicates.
package writer
