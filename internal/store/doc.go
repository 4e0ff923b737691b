// Package store provides the SQLite-backed persistent key-value backend that
// sits underneath the encrypted store.
//
// The backend is deliberately dumb:
//   - kv: opaque BLOB values keyed by TEXT, full replace on write
//   - meta: small plaintext bookkeeping values
//
// It knows nothing about drafts, encryption or namespaces beyond prefix
// enumeration.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// # Quotas
//
// WithMaxValueBytes and WithMaxTotalBytes emulate the storage quotas of a
// device key-value store. Writes that would exceed them fail with
// ErrQuotaExceeded and leave the previous value in place.
package store
