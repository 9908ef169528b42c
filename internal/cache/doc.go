// Package cache defines the named key-value stores that back the content
// cache, the staging cache and the manifest snapshot. A Provider opens stores
// by name; every Store supports enumerate/get/put/delete plus a whole-store
// Clear. Handles stay valid after Clear so the reconciler and the router can
// share them for the lifetime of the process. Backends: filesystem (temp file
// + rename, optional zstd), in-memory, and Redis hashes.
package cache
