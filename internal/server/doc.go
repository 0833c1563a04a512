// Package server exposes the song data layer over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [RequestID], [Logging], [Recover] and [RateLimit] are provided.
//
// The [BasicRouter] implementation registers "METHOD /path" patterns on an [http.ServeMux].
//
// # API
//
// [API] is a [Handler] over any [Backend] (normally the engine):
//
//	GET    /health
//	GET    /songs?role=
//	GET    /songs/page?size=&cursor=
//	GET    /collections/{id}/songs?role=
//	GET    /changes
//	GET    /stats
//	POST   /refresh?role=
//	POST   /reset?role=
//	DELETE /cache
//
// Reads always answer 200; the body's online and source fields say where songs came from.
// The role may also be sent in the X-Role header and defaults to guest.
package server
