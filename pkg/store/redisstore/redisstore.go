// Package redisstore adapts a go-redis client to the store capabilities.
//
// Scripts are registered with SCRIPT LOAD and run with EVALSHA. Conditional
// writes use WATCH on the key, compare the current value's fingerprint with
// the expected version and commit with MULTI/EXEC, so a concurrent writer
// aborts the transaction instead of being overwritten.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/store"
)

const module = "redisstore"

var errVersionMismatch = errors.New("version mismatch")

// Options configures a client created by Dial.
type Options struct {
	// Addrs lists the endpoints. More than one address selects a cluster client.
	Addrs []string

	// PoolSize is the maximum number of connections per node (defaults to 32)
	PoolSize int

	// MinIdleConns is the number of idle connections kept open (defaults to 4)
	MinIdleConns int

	// DialTimeout bounds connection establishment (defaults to 10s)
	DialTimeout time.Duration

	// ReadTimeout bounds every command (defaults to 5s)
	ReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.Addrs) == 0 {
		o.Addrs = []string{"localhost:6379"}
	}
	if o.PoolSize == 0 {
		o.PoolSize = 32
	}
	if o.MinIdleConns == 0 {
		o.MinIdleConns = 4
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 5 * time.Second
	}
	return o
}

// Store implements store.ScriptClient and store.VersionedClient on Redis.
// It is safe for concurrent use; every call borrows a pooled connection.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

var (
	_ store.ScriptClient    = (*Store)(nil)
	_ store.VersionedClient = (*Store)(nil)
)

// New wraps an existing client. Close does not close it.
func New(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, dberrors.NewValidationError(module, "client", nil, "cannot be nil")
	}
	return &Store{client: client}, nil
}

// Dial creates a pooled client from opts and verifies it with PING.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        opts.Addrs,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.ReadTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classify("Ping", err)
	}
	return &Store{client: client, owned: true}, nil
}

// Client returns the underlying go-redis client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Close closes the client if it was created by Dial.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// LoadScript registers body with SCRIPT LOAD.
func (s *Store) LoadScript(ctx context.Context, body string) (store.ScriptRef, error) {
	sha, err := s.client.ScriptLoad(ctx, body).Result()
	if err != nil {
		return "", classifyScript("ScriptLoad", err)
	}
	return store.ScriptRef(sha), nil
}

// ExecuteAtomic runs a registered script with EVALSHA.
func (s *Store) ExecuteAtomic(ctx context.Context, ref store.ScriptRef, keys []string, args []string) ([]int64, error) {
	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}

	reply, err := s.client.EvalSha(ctx, string(ref), keys, argv...).Result()
	if err != nil {
		return nil, classifyScript("EvalSha", err)
	}

	values, err := toInt64s(reply)
	if err != nil {
		return nil, dberrors.NewOperationError(module, "EvalSha", dberrors.Classify(dberrors.ErrBadScript, err))
	}
	return values, nil
}

// ReadVersioned reads key with GET. The version is a fingerprint of the value.
func (s *Store) ReadVersioned(ctx context.Context, key string) (store.VersionedValue, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.VersionedValue{}, store.ErrNotFound
	}
	if err != nil {
		return store.VersionedValue{}, classify("Get", err)
	}
	return store.VersionedValue{Value: value, Version: Fingerprint(value)}, nil
}

// WriteIfVersion writes value under WATCH when the current fingerprint
// equals expected.
func (s *Store) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != store.NoVersion {
				return errVersionMismatch
			}
		case err != nil:
			return err
		case Fingerprint(current) != expected:
			return errVersionMismatch
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errVersionMismatch), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, classify("WriteIfVersion", err)
	}
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classify("Del", err)
	}
	return nil
}

// SetExpiry sets a TTL on key.
func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return classify("Expire", err)
	}
	return nil
}

// Fingerprint returns the version Store assigns to a stored value.
func Fingerprint(value []byte) store.Version {
	return store.Version(strconv.FormatUint(xxhash.Sum64(value), 16))
}

// classify separates server replies from transport failures. Replies that
// report a temporary server condition count as unavailability.
func classify(op string, err error) error {
	var reply redis.Error
	if errors.As(err, &reply) && !store.IsTransientReply(reply.Error()) {
		return dberrors.NewOperationError(module, op, err)
	}
	return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrStoreUnavailable, err))
}

// classifyScript maps NOSCRIPT to store.ErrNoScript and any other
// non-transient server reply, such as a compile or runtime error in the
// script, to ErrBadScript.
func classifyScript(op string, err error) error {
	var reply redis.Error
	switch {
	case redis.HasErrorPrefix(err, "NOSCRIPT"):
		return dberrors.NewOperationError(module, op, dberrors.Classify(store.ErrNoScript, err))
	case errors.As(err, &reply) && !store.IsTransientReply(reply.Error()):
		return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrBadScript, err))
	default:
		return classify(op, err)
	}
}

func toInt64s(reply interface{}) ([]int64, error) {
	values, ok := reply.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script reply: %T", reply)
	}

	out := make([]int64, len(values))
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric type: %T", v)
	}
}
