// Package rategate enforces the upstream request quotas.
//
// A Gate holds N independent sliding-window budgets (per-second, per-minute,
// per-half-hour by default) shared by every worker. Acquire blocks until
// admitting one more request would not exceed any window, then records the
// request instant in all of them atomically.
//
// When the upstream signals overload (HTTP 429), OnRejection shrinks the
// effective capacity of every window; repeated successes restore it
// gradually via OnSuccess.
package rategate
