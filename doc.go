// Package authcore is the distributed session, permission-authority and
// realtime-revocation core for horizontally scaled API servers.
//
// Processes share nothing but a key/value store with expiring keys and
// a publish/subscribe bus layered on it. Tokens, permission caches,
// password versions and blacklists live in the store; revocations and
// broadcasts travel over the bus; each process keeps only its own
// websocket connection table and decides locally whether a revocation
// concerns it.
//
// The package is the public surface: [Builder], [Config], [Engine] and
// the collaborator interfaces ([UserDirectory], [RoleDirectory]). The
// moving parts live in the kv, token, permission, gate, bus, realtime
// and leader sub-packages and are wired together by [Builder.Build].
// Engine methods are safe for concurrent use after Build.
package authcore
