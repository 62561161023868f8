package jwtx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// maxJWKSBody caps how much of a key set document we are willing to read.
const maxJWKSBody = 1 << 20

// ErrUnknownKID is returned when a kid is still absent after a reload.
var ErrUnknownKID = errors.New("jwtx: unknown kid")

// KeyResolutionError reports a failed key lookup. It wraps either
// ErrUnknownKID or the transport/decoding failure of the key set endpoint.
type KeyResolutionError struct {
	KID string
	Err error
}

func (e *KeyResolutionError) Error() string {
	return fmt.Sprintf("jwtx: resolve key %q: %v", e.KID, e.Err)
}

func (e *KeyResolutionError) Unwrap() error { return e.Err }

// Timeout reports whether the lookup failed because the key set endpoint
// did not answer in time.
func (e *KeyResolutionError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// KeySource resolves verification keys by kid.
type KeySource interface {
	Resolve(ctx context.Context, kid string) (any, error)
}

// KeyResolver fetches a remote JWKS and caches it as an immutable KeySet.
//
// A kid present in the cached set is served without any network call. A
// kid that is missing triggers exactly one reload; concurrent misses share
// that reload. If the kid is still missing afterwards the lookup fails,
// there is no retry loop.
type KeyResolver struct {
	url      string
	client   *http.Client
	snapshot atomic.Pointer[KeySet]
	group    singleflight.Group

	// onReload is told about every fetch ("ok" or "error").
	onReload func(result string)
}

// ResolverOption customises a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithHTTPClient sets the client used for key set fetches. The client must
// carry a timeout, a fetch is never allowed to block indefinitely.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *KeyResolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithReloadObserver registers a callback invoked after every fetch.
func WithReloadObserver(fn func(result string)) ResolverOption {
	return func(r *KeyResolver) { r.onReload = fn }
}

// NewKeyResolver creates a resolver for the given JWKS endpoint and eagerly
// loads the key set. A failing initial load is returned to the caller.
func NewKeyResolver(ctx context.Context, url string, opts ...ResolverOption) (*KeyResolver, error) {
	if url == "" {
		return nil, errors.New("jwtx: key set url is required")
	}

	r := &KeyResolver{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.reload(ctx); err != nil {
		return nil, &KeyResolutionError{Err: err}
	}
	return r, nil
}

// Resolve returns the public key for kid. An empty kid resolves to the
// current (first published) key.
func (r *KeyResolver) Resolve(ctx context.Context, kid string) (any, error) {
	snap := r.snapshot.Load()
	if kid == "" {
		kid = snap.Current()
	}
	if key, err := snap.Get(kid); err == nil {
		return key, nil
	}

	fresh, err := r.reload(ctx)
	if err != nil {
		return nil, &KeyResolutionError{KID: kid, Err: err}
	}
	key, err := fresh.Get(kid)
	if err != nil {
		return nil, &KeyResolutionError{KID: kid, Err: ErrUnknownKID}
	}
	return key, nil
}

// Current returns the kid of the cached current key.
func (r *KeyResolver) Current() string {
	return r.snapshot.Load().Current()
}

// Ready reports whether a key set has been loaded.
func (r *KeyResolver) Ready() bool {
	return r.snapshot.Load().Len() > 0
}

// reload fetches the key set once, sharing the fetch between concurrent
// callers. A caller whose context ends stops waiting; the shared fetch is
// bounded by the client timeout and only ever replaces the snapshot.
func (r *KeyResolver) reload(ctx context.Context) (*KeySet, error) {
	ch := r.group.DoChan("jwks", func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		ks, err := r.fetch(fetchCtx)
		if r.onReload != nil {
			if err != nil {
				r.onReload("error")
			} else {
				r.onReload("ok")
			}
		}
		if err != nil {
			return nil, err
		}
		r.snapshot.Store(ks)
		return ks, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (r *KeyResolver) fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read key set: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	jwks, err := ParseJWKS(body)
	if err != nil {
		return nil, err
	}
	return NewKeySet(jwks)
}

// StaticKeys adapts a fixed KeySet to KeySource. Useful for tests and for
// deployments that pin provider keys in configuration.
type StaticKeys struct{ Set *KeySet }

func (s StaticKeys) Resolve(_ context.Context, kid string) (any, error) {
	if kid == "" {
		kid = s.Set.Current()
	}
	key, err := s.Set.Get(kid)
	if err != nil {
		return nil, &KeyResolutionError{KID: kid, Err: ErrUnknownKID}
	}
	return key, nil
}
