// Package rueidisstore adapts a rueidis client to the store capabilities.
//
// It offers the same semantics as redisstore over the rueidis RESP3 client.
// Conditional writes run on a dedicated connection so WATCH applies only to
// the transaction that follows it.
package rueidisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/rueidis"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/store"
	"github.com/vnykmshr/distbucket/pkg/store/redisstore"
)

const module = "rueidisstore"

var errVersionMismatch = errors.New("version mismatch")

// Store implements store.ScriptClient and store.VersionedClient on rueidis.
type Store struct {
	client rueidis.Client
	owned  bool
}

var (
	_ store.ScriptClient    = (*Store)(nil)
	_ store.VersionedClient = (*Store)(nil)
)

// New wraps an existing client. Close does not close it.
func New(client rueidis.Client) (*Store, error) {
	if client == nil {
		return nil, dberrors.NewValidationError(module, "client", nil, "cannot be nil")
	}
	return &Store{client: client}, nil
}

// Dial creates a client for the given option. Client-side caching is
// disabled; bucket state must always be read from the server.
func Dial(opt rueidis.ClientOption) (*Store, error) {
	opt.DisableCache = true
	if opt.BlockingPoolSize == 0 {
		opt.BlockingPoolSize = 32
	}
	if opt.ConnWriteTimeout == 0 {
		opt.ConnWriteTimeout = 5 * time.Second
	}
	if opt.Dialer.Timeout == 0 {
		opt.Dialer.Timeout = 10 * time.Second
	}

	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, classify("Dial", err)
	}
	return &Store{client: client, owned: true}, nil
}

// Close closes the client if it was created by Dial.
func (s *Store) Close() {
	if s.owned {
		s.client.Close()
	}
}

// LoadScript registers body with SCRIPT LOAD.
func (s *Store) LoadScript(ctx context.Context, body string) (store.ScriptRef, error) {
	sha, err := s.client.Do(ctx, s.client.B().ScriptLoad().Script(body).Build()).ToString()
	if err != nil {
		return "", classifyScript("ScriptLoad", err)
	}
	return store.ScriptRef(sha), nil
}

// ExecuteAtomic runs a registered script with EVALSHA.
func (s *Store) ExecuteAtomic(ctx context.Context, ref store.ScriptRef, keys []string, args []string) ([]int64, error) {
	cmd := s.client.B().Evalsha().
		Sha1(string(ref)).
		Numkeys(int64(len(keys))).
		Key(keys...).
		Arg(args...).
		Build()

	values, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, classifyScript("Evalsha", err)
	}

	out := make([]int64, len(values))
	for i, v := range values {
		n, err := v.AsInt64()
		if err != nil {
			return nil, dberrors.NewOperationError(module, "Evalsha", dberrors.Classify(dberrors.ErrBadScript, err))
		}
		out[i] = n
	}
	return out, nil
}

// ReadVersioned reads key with GET. Versions are the same fingerprints
// redisstore uses, so both adapters can share keys.
func (s *Store) ReadVersioned(ctx context.Context, key string) (store.VersionedValue, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if rueidis.IsRedisNil(err) {
		return store.VersionedValue{}, store.ErrNotFound
	}
	if err != nil {
		return store.VersionedValue{}, classify("Get", err)
	}
	return store.VersionedValue{Value: value, Version: redisstore.Fingerprint(value)}, nil
}

// WriteIfVersion writes value inside WATCH/MULTI/EXEC when the current
// fingerprint equals expected.
func (s *Store) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	var committed bool

	err := s.client.Dedicated(func(c rueidis.DedicatedClient) error {
		if err := c.Do(ctx, c.B().Watch().Key(key).Build()).Error(); err != nil {
			return err
		}

		current, err := c.Do(ctx, c.B().Get().Key(key).Build()).AsBytes()
		switch {
		case rueidis.IsRedisNil(err):
			if expected != store.NoVersion {
				return unwatch(ctx, c)
			}
		case err != nil:
			return err
		case redisstore.Fingerprint(current) != expected:
			return unwatch(ctx, c)
		}

		var set rueidis.Completed
		if ttl > 0 {
			set = c.B().Set().Key(key).Value(rueidis.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
		} else {
			set = c.B().Set().Key(key).Value(rueidis.BinaryString(value)).Build()
		}

		resps := c.DoMulti(ctx, c.B().Multi().Build(), set, c.B().Exec().Build())
		for _, r := range resps[:2] {
			if err := r.Error(); err != nil {
				return err
			}
		}

		err = resps[2].Error()
		if rueidis.IsRedisNil(err) {
			return nil
		}
		if err != nil {
			return err
		}
		committed = true
		return nil
	})

	if err != nil && !errors.Is(err, errVersionMismatch) {
		return false, classify("WriteIfVersion", err)
	}
	return committed, nil
}

func unwatch(ctx context.Context, c rueidis.DedicatedClient) error {
	if err := c.Do(ctx, c.B().Unwatch().Build()).Error(); err != nil {
		return err
	}
	return errVersionMismatch
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return classify("Del", err)
	}
	return nil
}

// SetExpiry sets a TTL on key with millisecond precision.
func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	cmd := s.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return classify("Pexpire", err)
	}
	return nil
}

// classify separates server replies from transport failures. Replies that
// report a temporary server condition count as unavailability.
func classify(op string, err error) error {
	if rerr, ok := rueidis.IsRedisErr(err); ok && !store.IsTransientReply(rerr.Error()) {
		return dberrors.NewOperationError(module, op, err)
	}
	return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrStoreUnavailable, err))
}

func classifyScript(op string, err error) error {
	rerr, ok := rueidis.IsRedisErr(err)
	switch {
	case ok && rerr.IsNoScript():
		return dberrors.NewOperationError(module, op, dberrors.Classify(store.ErrNoScript, err))
	case ok && !store.IsTransientReply(rerr.Error()):
		return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrBadScript, err))
	default:
		return classify(op, err)
	}
}
