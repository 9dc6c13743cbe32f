package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var errRefreshThrottled = errors.New("key refresh throttled")

// keyCache holds the current SigningKeySet of one issuer.
// Readers load the snapshot without locking. Refreshes are funneled through a
// singleflight group so there is only ever one fetch per issuer in flight.
type keyCache struct {
	issuer string
	source core.KeySource
	now    func() time.Time

	refreshInterval time.Duration
	maxKeyAge       time.Duration
	minRefresh      time.Duration
	timeout         time.Duration

	current     atomic.Pointer[core.SigningKeySet]
	lastAttempt atomic.Int64
	lastLookup  atomic.Int64 // last fetch forced by an unknown kid
	background  atomic.Bool
	group       singleflight.Group
}

func newKeyCache(cfg config.IssuerConfig, source core.KeySource, now func() time.Time) *keyCache {
	return &keyCache{
		issuer:          cfg.IssuerURL,
		source:          source,
		now:             now,
		refreshInterval: cfg.RefreshInterval,
		maxKeyAge:       cfg.MaxKeyAge,
		minRefresh:      cfg.MinRefreshInterval,
		timeout:         cfg.RefreshTimeout,
	}
}

// Snapshot returns the current key set, or nil if none was fetched yet.
func (c *keyCache) Snapshot() *core.SigningKeySet {
	return c.current.Load()
}

// Lookup returns the public key for kid.
//
// A key found in an unexpired snapshot is returned right away, even when the
// snapshot is stale; the refresh then happens in the background. An unknown kid
// or an expired snapshot forces a synchronous refresh, which the caller may
// abandon through ctx without cancelling the fetch itself.
func (c *keyCache) Lookup(ctx context.Context, kid string) (any, error) {
	snap := c.current.Load()
	if !snap.Expired(c.now()) {
		if key, ok := snap.Lookup(kid); ok {
			if snap.Stale(c.now()) {
				c.refreshInBackground()
			}
			return key, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := c.refresh(ctx, true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: kid '%s' of %s: %w", core.ErrKeyNotFound, kid, c.issuer, err)
	}
	if snap.Expired(c.now()) {
		return nil, fmt.Errorf("%w: key set of %s expired", core.ErrKeyNotFound, c.issuer)
	}
	key, ok := snap.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("%w: kid '%s' is not published by %s", core.ErrKeyNotFound, kid, c.issuer)
	}
	return key, nil
}

// Refresh fetches the key set now, ignoring the minimum refresh interval.
func (c *keyCache) Refresh(ctx context.Context) (*core.SigningKeySet, error) {
	c.lastAttempt.Store(0)
	return c.refresh(ctx, false)
}

func (c *keyCache) refresh(ctx context.Context, lookup bool) (*core.SigningKeySet, error) {
	ch := c.group.DoChan(c.issuer, func() (any, error) {
		return c.fetch(lookup)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.SigningKeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *keyCache) refreshInBackground() {
	if !c.background.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.background.Store(false)
		if _, err := c.refresh(context.Background(), false); err != nil && !errors.Is(err, errRefreshThrottled) {
			log.Warn().Err(err).Str("issuer", c.issuer).Msg("background key refresh failed, serving stale keys")
		}
	}()
}

// fetch runs inside the singleflight group. It is detached from any caller and
// bounded by the refresh timeout.
//
// Fetches are at least minRefresh apart, except that one lookup of an unknown
// kid per interval may fetch early. A key rotated right after a refresh is
// then picked up at once.
func (c *keyCache) fetch(lookup bool) (*core.SigningKeySet, error) {
	now := c.now()
	within := func(last int64) bool {
		return last != 0 && now.Sub(time.Unix(0, last)) < c.minRefresh
	}
	if within(c.lastAttempt.Load()) && (!lookup || within(c.lastLookup.Load())) {
		if snap := c.current.Load(); snap != nil {
			return snap, nil
		}
		return nil, errRefreshThrottled
	}
	c.lastAttempt.Store(now.UnixNano())
	if lookup {
		c.lastLookup.Store(now.UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	keys, err := c.source.FetchKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing keys: %w", err)
	}

	fetchedAt := c.now()
	snap := &core.SigningKeySet{
		Issuer:       c.issuer,
		Keys:         keys,
		FetchedAt:    fetchedAt,
		RefreshAfter: fetchedAt.Add(c.refreshInterval),
		ExpiresAt:    fetchedAt.Add(c.maxKeyAge),
	}
	c.current.Store(snap)

	log.Debug().Str("issuer", c.issuer).Int("keys", len(keys)).Msg("signing keys refreshed")
	return snap, nil
}
