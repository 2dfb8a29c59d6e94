// Package fetch talks to the upstream historical-data API.
//
// The Fetcher interface is the narrow capability the scheduler depends on:
// list expiry dates for an instrument, list the contracts of one expiry,
// and fetch a contract's candle series. Client is the HTTP implementation.
//
// Errors returned by a Fetcher carry their retry classification (see
// errors.go); callers never inspect HTTP status codes directly.
package fetch
