package deltacache

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/deltacache/internal/keys"
	"github.com/unkn0wn-root/deltacache/provider"
)

// writeRemote stores raw under sk. The remote tier is a best-effort copy:
// failures and refusals are logged and reported, never returned.
func writeRemote(
	ctx context.Context,
	p provider.Provider,
	timeout time.Duration,
	sk string,
	raw []byte,
	cost int64,
	exp provider.Expiration,
	log Logger,
	hooks Hooks,
) bool {
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	ok, err := p.Set(cctx, sk, raw, cost, exp)
	if err != nil {
		log.Warn("remote write failed", Fields{"key": sk, "err": err})
		hooks.RemoteWriteFailed(sk, err)
		return false
	}
	if !ok {
		log.Debug("remote write rejected by provider (pressure)", Fields{"key": sk})
		hooks.RemoteWriteFailed(sk, nil)
		return false
	}
	return true
}

func containsRemote(ctx context.Context, p provider.Provider, timeout time.Duration, sk string) (bool, error) {
	if p == nil {
		return false, nil
	}
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return p.Exists(cctx, sk)
}

// deleteRemoteByPattern removes the keys of space whose user part contains
// pattern. Keys outside space are never touched, even when they match.
func deleteRemoteByPattern(ctx context.Context, p provider.Provider, space, pattern string) (int, error) {
	match := pattern
	if match == "" {
		match = space
	}
	found, err := p.Keys(ctx, match)
	if err != nil {
		return 0, err
	}
	// filtered here: a provider-side DelByPattern would also hit other
	// spaces whose user keys happen to contain this one
	doomed := found[:0]
	for _, sk := range found {
		if k, ok := keys.User(space, sk); ok && strings.Contains(k, pattern) {
			doomed = append(doomed, sk)
		}
	}
	if err := p.Del(ctx, doomed...); err != nil {
		return 0, err
	}
	return len(doomed), nil
}
