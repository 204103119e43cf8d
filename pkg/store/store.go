package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by ReadVersioned when the key holds no value.
	ErrNotFound = errors.New("store: key not found")

	// ErrNoScript is returned by ExecuteAtomic when the store does not know
	// the script reference, for example after a restart or SCRIPT FLUSH.
	ErrNoScript = errors.New("store: unknown script reference")
)

// transientReplies are Redis error reply codes for server conditions that
// clear without intervention: a node loading its dataset, a long script
// holding the server, a failover or a resharding in progress.
var transientReplies = map[string]bool{
	"LOADING":     true,
	"BUSY":        true,
	"TRYAGAIN":    true,
	"CLUSTERDOWN": true,
	"READONLY":    true,
	"MASTERDOWN":  true,
	"MISCONF":     true,
	"NOREPLICAS":  true,
}

// IsTransientReply reports whether msg, the text of a Redis error reply,
// describes a temporary server condition rather than a problem with the
// command or script.
func IsTransientReply(msg string) bool {
	code, _, _ := strings.Cut(msg, " ")
	return transientReplies[code]
}

// ScriptRef identifies a registered atomic script. For Redis-compatible
// stores it is the SHA1 of the script body.
type ScriptRef string

// RefFor returns the reference a Redis-compatible store assigns to body.
func RefFor(body string) ScriptRef {
	sum := sha1.Sum([]byte(body))
	return ScriptRef(hex.EncodeToString(sum[:]))
}

// Version is an opaque token identifying one stored value of a key.
type Version string

// NoVersion is the version of a key that holds no value. Writing with
// NoVersion succeeds only if the key is still absent.
const NoVersion Version = ""

// VersionedValue is a value together with the version it was read at.
type VersionedValue struct {
	Value   []byte
	Version Version
}

// Client is the capability every store adapter offers.
type Client interface {
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SetExpiry makes key expire after ttl. Missing keys are ignored.
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
}

// ScriptClient is a store that can run registered scripts atomically.
type ScriptClient interface {
	Client

	// LoadScript registers body and returns its reference.
	LoadScript(ctx context.Context, body string) (ScriptRef, error)

	// ExecuteAtomic runs the script identified by ref without interleaving
	// other operations. Integer replies are returned in order.
	ExecuteAtomic(ctx context.Context, ref ScriptRef, keys []string, args []string) ([]int64, error)
}

// VersionedClient is a store offering reads with versions and conditional
// writes.
type VersionedClient interface {
	Client

	// ReadVersioned returns the value of key and its version, or ErrNotFound.
	ReadVersioned(ctx context.Context, key string) (VersionedValue, error)

	// WriteIfVersion stores value only if key is still at expected. It
	// reports false, with a nil error, when another writer got there first.
	// A positive ttl makes the key expire; otherwise it never expires.
	WriteIfVersion(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (bool, error)
}
