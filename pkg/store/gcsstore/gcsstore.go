// Package gcsstore implements store.VersionedClient on Google Cloud Storage.
//
// Each bucket key is one object. The object generation is the version, and
// conditional writes use the x-goog-if-generation-match precondition, so a
// concurrent writer makes the upload fail with 412 instead of overwriting.
// Cloud Storage has no per-object TTL; expiry is kept in object metadata and
// expired objects read as absent.
package gcsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/store"
)

const (
	module = "gcsstore"

	// Endpoint is the default Cloud Storage endpoint.
	Endpoint = "https://storage.googleapis.com"

	scope            = "https://www.googleapis.com/auth/devstorage.read_write"
	generationHeader = "x-goog-generation"
	expirationHeader = "x-goog-meta-expiration"
)

var errPreconditionFailed = fmt.Errorf("%s: precondition failed", module)

// Options configures a Store.
type Options struct {
	// Bucket is the Cloud Storage bucket holding the objects.
	Bucket string

	// Prefix is prepended to every key to form the object name.
	Prefix string

	// JSONKey is a service account key. It is ignored when HTTPClient is set.
	JSONKey []byte

	// HTTPClient issues the requests. It must add credentials itself.
	HTTPClient *http.Client

	// Endpoint overrides the Cloud Storage endpoint.
	Endpoint string

	// Clock decides whether an object has expired.
	Clock clockwork.Clock
}

// Store is a Cloud Storage backed store.VersionedClient.
type Store struct {
	client   *http.Client
	endpoint string
	bucket   string
	prefix   string
	clock    clockwork.Clock
}

var _ store.VersionedClient = (*Store)(nil)

// New creates a Store. It takes a context because oauth2 keeps it for token
// refreshes.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, dberrors.NewValidationError(module, "bucket", opts.Bucket, "cannot be empty")
	}

	client := opts.HTTPClient
	if client == nil {
		if len(opts.JSONKey) == 0 {
			return nil, dberrors.NewValidationError(module, "json_key", nil, "required without an HTTP client").
				WithHint("provide a service account key or an authenticated client")
		}
		creds, err := google.CredentialsFromJSON(ctx, opts.JSONKey, scope)
		if err != nil {
			return nil, dberrors.NewValidationError(module, "json_key", nil, err.Error())
		}
		client = oauth2.NewClient(ctx, creds.TokenSource)
	}

	s := &Store{
		client:   client,
		endpoint: opts.Endpoint,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		clock:    opts.Clock,
	}
	if s.endpoint == "" {
		s.endpoint = Endpoint
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s, nil
}

// ReadVersioned downloads the object for key.
func (s *Store) ReadVersioned(ctx context.Context, key string) (store.VersionedValue, error) {
	resp, err := s.do(ctx, http.MethodGet, s.objectURL(key), nil, nil)
	if err != nil {
		return store.VersionedValue{}, s.unavailable("ReadVersioned", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return store.VersionedValue{}, store.ErrNotFound
	default:
		return store.VersionedValue{}, s.unexpected("ReadVersioned", resp)
	}

	if s.expired(resp.Header) {
		return store.VersionedValue{}, store.ErrNotFound
	}

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.VersionedValue{}, s.unavailable("ReadVersioned", err)
	}
	return store.VersionedValue{
		Value:   value,
		Version: store.Version(resp.Header.Get(generationHeader)),
	}, nil
}

// WriteIfVersion uploads value if the object is still at generation expected.
// Writing with store.NoVersion also replaces an object that has expired.
func (s *Store) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	generation := string(expected)
	if expected == store.NoVersion {
		generation = "0"
	}

	err := s.upload(ctx, key, value, generation, ttl)
	if err == errPreconditionFailed && expected == store.NoVersion {
		var stale string
		stale, err = s.expiredGeneration(ctx, key)
		if err == nil && stale != "" {
			err = s.upload(ctx, key, value, stale, ttl)
		} else if err == nil {
			err = errPreconditionFailed
		}
	}

	switch {
	case err == nil:
		return true, nil
	case err == errPreconditionFailed:
		return false, nil
	default:
		return false, err
	}
}

// Delete deletes the object for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.objectURL(key), nil, nil)
	if err != nil {
		return s.unavailable("Delete", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return s.unexpected("Delete", resp)
	}
}

// SetExpiry updates the expiration metadata of key with the JSON API. The
// generation, and therefore the version, is unchanged.
func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	body, err := json.Marshal(map[string]map[string]string{
		"metadata": {"expiration": s.clock.Now().Add(ttl).UTC().Format(time.RFC3339Nano)},
	})
	if err != nil {
		return dberrors.NewOperationError(module, "SetExpiry", err)
	}

	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", s.endpoint, s.bucket, url.PathEscape(s.prefix+key))
	headers := http.Header{"Content-Type": []string{"application/json"}}

	resp, err := s.do(ctx, http.MethodPatch, u, headers, bytes.NewReader(body))
	if err != nil {
		return s.unavailable("SetExpiry", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return s.unexpected("SetExpiry", resp)
	}
}

func (s *Store) upload(ctx context.Context, key string, value []byte, generation string, ttl time.Duration) error {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/octet-stream")
	headers.Set("x-goog-if-generation-match", generation)
	if ttl > 0 {
		headers.Set(expirationHeader, s.clock.Now().Add(ttl).UTC().Format(time.RFC3339Nano))
	}

	resp, err := s.do(ctx, http.MethodPut, s.objectURL(key), headers, bytes.NewReader(value))
	if err != nil {
		return s.unavailable("WriteIfVersion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusPreconditionFailed:
		return errPreconditionFailed
	default:
		return s.unexpected("WriteIfVersion", resp)
	}
}

// expiredGeneration returns the generation of key's object if it exists and
// has expired, or "" otherwise.
func (s *Store) expiredGeneration(ctx context.Context, key string) (string, error) {
	resp, err := s.do(ctx, http.MethodHead, s.objectURL(key), nil, nil)
	if err != nil {
		return "", s.unavailable("WriteIfVersion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if s.expired(resp.Header) {
			return resp.Header.Get(generationHeader), nil
		}
		return "", nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", s.unexpected("WriteIfVersion", resp)
	}
}

func (s *Store) expired(h http.Header) bool {
	raw := h.Get(expirationHeader)
	if raw == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return !s.clock.Now().Before(at)
}

func (s *Store) do(ctx context.Context, method, u string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if headers != nil {
		req.Header = headers.Clone()
	}
	return s.client.Do(req)
}

func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, url.PathEscape(s.prefix+key))
}

func (s *Store) unavailable(op string, err error) error {
	return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrStoreUnavailable, err)).
		WithContext("bucket=" + s.bucket)
}

func (s *Store) unexpected(op string, resp *http.Response) error {
	cause := dberrors.Classify(dberrors.ErrStoreUnavailable, fmt.Errorf("unexpected status: %s", resp.Status))
	return dberrors.NewOperationError(module, op, cause).
		WithContext("bucket=" + s.bucket + " status=" + strconv.Itoa(resp.StatusCode))
}
