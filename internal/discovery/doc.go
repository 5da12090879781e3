// Package discovery produces candidate article URLs for each cycle.
//
// A Source yields candidates; the stream may repeat URLs within a cycle and
// across cycles. Deduplication against already processed URLs happens in the
// ledger, not here.
//
// # Sources
//
//   - FeedSource reads RSS and Atom feeds (newswires, trade press) and keeps
//     items whose title or summary mentions a configured keyword.
//   - StaticSource replays a fixed URL list, typically loaded from a file
//     of seed URLs.
//
// # Registry
//
// A Registry holds named sources and is itself a discoverer: Discover runs
// every enabled source concurrently and concatenates their candidates in
// registration order. One failing source does not fail the cycle; only when
// every source fails is the error returned.
package discovery
