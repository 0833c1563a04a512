// Package services defines the [RemoteStore] interface for the remote document tree
// that holds songs and collections, and implements it over HTTP.
//
// # Remote Store Interface
//
// The engine is read-only toward the remote store and uses three reads:
//   - Get : point read of one node, decoded into a caller-supplied value
//   - Scan : ordered range scan over a node's children (StartAt inclusive, Limit)
//   - Exists : shallow existence probe that does not transfer children
//
// # Document Store Implementation
//
// [DocumentStore] speaks a realtime-database style REST dialect where every node
// is addressable as {base}/{path}.json. Range scans use orderBy="$key" with
// startAt and limitToFirst; existence probes use shallow=true.
//
// Two virtual paths are used by the connectivity probe:
//   - [ConnectedPath] : the backend's own connectivity signal
//   - [ServerClockPath] : a volatile server clock value
//
// When an auth token is configured it is attached as a bearer token through an
// [oauth2.Transport] backed by a static token source.
//
// # Key Ordering
//
// Children are ordered with [KeyLess]: integer keys first in numeric order, then
// string keys lexicographically. Partitions stored as JSON arrays are decoded
// with their index as key and null holes are skipped.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ErrNotFound] : 404 from the store
//   - [shared.ErrAccessDenied] : 401 or 403 (rules deny the caller)
//   - [shared.ErrTimeout] : the caller's deadline elapsed
//   - [shared.ErrRemoteRequest] : transport failure or other non-2xx status
//   - [shared.ErrParseFailure] : the node body was not the expected shape
//
// Deadlines are supplied by callers through context; the store sets none itself.
package services
