// Package persistence implements energy/configuration persistence
// (spec.md component C5): a small key-value Store interface with a
// go.etcd.io/bbolt-backed implementation, an energy write-back task, and
// the hourly CSV spool writer.
package persistence

import "errors"

// Namespaces used by the core (spec.md 6.4).
const (
	NamespaceAde7953  = "ade7953"
	NamespaceChannels = "channels"
	NamespaceEnergy   = "energy"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("persistence: key not found")

// Store is the persistent key-value interface the core depends on
// (spec.md 6.4: "namespaces ... transactional at single-key
// granularity"). Each namespace is an independent bucket.
type Store interface {
	Get(namespace, key string) ([]byte, error)
	Set(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	ForEach(namespace string, fn func(key string, value []byte) error) error
}
