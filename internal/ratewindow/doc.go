// Package ratewindow throttles a single log line per category: the
// capability-denial warning internal/executor emits when a handler's
// granted capabilities reject a host call. Capability checks themselves
// are never rate-limited (the denial decision and the
// nexus_capability_denied_total counter fire every time, unthrottled);
// only the log line is, because a misbehaving or compromised handler
// hammering a denied capability in a tight loop would otherwise flood the
// logs.
//
// It is a thin, category-keyed wrapper around golang.org/x/time/rate,
// the same token-bucket library and per-key map/cleanup shape
// _examples/spencerandtheteagues-apex-build-platform's
// backend/internal/middleware.IPRateLimiter uses to throttle by client
// IP; here the category is a capability token instead of an IP address.
package ratewindow
