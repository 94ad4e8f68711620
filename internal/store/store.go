// Package store provides the opaque key-value persistence used by every
// engine component. Values are JSON blobs; callers treat unparseable values
// as absent and reinitialize to safe defaults.
package store

// Store is the persistence contract. Implementations must be safe for
// concurrent use and survive process restarts.
type Store interface {
	// Get returns the stored value for key. ok is false when the key does
	// not exist.
	Get(key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Close releases underlying resources.
	Close() error
}
