package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/deltacache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FullLoadEvery    uint64
	DeltaMergedEvery uint64
	SelfHealEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	fullLoadCtr    atomic.Uint64
	deltaMergedCtr atomic.Uint64
	selfHealCtr    atomic.Uint64
}

var _ deltacache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FullLoad(ns, key string, items int, took time.Duration) {
	if h.l == nil || !sample(h.opts.FullLoadEvery, &h.fullLoadCtr) {
		return
	}
	h.l.Debug("deltacache.full_load",
		"ns", ns,
		"key", h.redact(key),
		"items", items,
		"took", took)
}

func (h *Hooks) RemoteHit(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("deltacache.remote_hit",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) DeltaMerged(ns, key string, delta, total int, took time.Duration) {
	if h.l == nil || !sample(h.opts.DeltaMergedEvery, &h.deltaMergedCtr) {
		return
	}
	h.l.Debug("deltacache.delta_merged",
		"ns", ns,
		"key", h.redact(key),
		"delta", delta,
		"total", total,
		"took", took)
}

func (h *Hooks) RefreshFailed(ns, key, stage string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("deltacache.refresh_failed",
		"ns", ns,
		"key", h.redact(key),
		"stage", stage,
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("deltacache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) RemoteWriteFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	if err == nil {
		h.l.Warn("deltacache.remote_write_rejected", "key", h.redact(storageKey))
		return
	}
	h.l.Warn("deltacache.remote_write_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(keyOrPattern string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("deltacache.invalidate_outage",
		"key", h.redact(keyOrPattern),
		"err", err)
}
