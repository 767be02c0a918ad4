// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default verdict cache capacity.
const DefaultCacheSize = 65536

type policyOptions struct {
	cacheSize int
	logger    *slog.Logger
}

// PolicyOption configures a Policy.
type PolicyOption func(*policyOptions)

// WithCacheSize bounds the verdict cache. Values below 1 select
// DefaultCacheSize.
func WithCacheSize(n int) PolicyOption {
	return func(o *policyOptions) { o.cacheSize = n }
}

// WithPolicyLogger sets the logger used for cache purges.
func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(o *policyOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Policy is an ordered rule list with a default action.
//
// Description:
//
//	A call's admissibility depends on its source method only. Entries are
//	tried in order and the first match decides; with no match the default
//	applies. Verdicts are memoized per source method for one hierarchy
//	snapshot. When a query arrives with a different snapshot ID the whole
//	cache is purged before the lookup. Queries against two snapshots may
//	interleave; the one whose snapshot no longer owns the cache evaluates
//	its entries directly.
//
//	Rule set and default are fixed at construction.
//
// Thread Safety: Safe for concurrent use.
type Policy struct {
	defaultDeny bool
	entries     []Entry
	logger      *slog.Logger

	mu         sync.RWMutex
	snapshotID string
	verdicts   *lru.Cache[sig.Method, bool]
}

// NewPolicy creates a policy.
//
// Inputs:
//
//	defaultDeny - Verdict for sources no entry matches.
//	entries - Rules in priority order. The slice is copied.
//	opts - Optional cache size and logger.
//
// Outputs:
//
//	*Policy - The policy.
//	error - Non-nil only if the cache cannot be created.
func NewPolicy(defaultDeny bool, entries []Entry, opts ...PolicyOption) (*Policy, error) {
	o := policyOptions{cacheSize: DefaultCacheSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize < 1 {
		o.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[sig.Method, bool](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating verdict cache: %w", err)
	}
	return &Policy{
		defaultDeny: defaultDeny,
		entries:     append([]Entry(nil), entries...),
		logger:      o.logger,
		verdicts:    cache,
	}, nil
}

// DefaultDeny reports the policy's default verdict.
func (p *Policy) DefaultDeny() bool { return p.defaultDeny }

// Entries returns a copy of the rule list.
func (p *Policy) Entries() []Entry { return append([]Entry(nil), p.entries...) }

// DeniedEdge reports whether the call src → dst is inadmissible.
//
// Description:
//
//	Only src is consulted. dst is accepted so callers can phrase the
//	question per edge; two calls with the same src and view always agree.
//
// Inputs:
//
//	src - The calling method.
//	dst - The called method. Ignored.
//	view - The hierarchy the rules are evaluated against.
//
// Outputs:
//
//	bool - True if the edge must be removed.
func (p *Policy) DeniedEdge(src, _ sig.Method, view hierarchy.View) bool {
	id := p.sync(view)

	if denied, ok := p.cached(src, id); ok {
		recordVerdictLookup(true)
		return denied
	}
	recordVerdictLookup(false)

	denied := p.evaluate(src, view)
	recordVerdict(denied)

	p.mu.RLock()
	if p.snapshotID == id {
		p.verdicts.Add(src, denied)
	}
	p.mu.RUnlock()
	return denied
}

// cached returns the memoized verdict for src if the cache still belongs to
// snapshot id. A concurrent query against another snapshot may have purged
// and refilled it since sync.
func (p *Policy) cached(src sig.Method, id string) (denied, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshotID != id {
		return false, false
	}
	return p.verdicts.Get(src)
}

// sync purges the cache if view is a different snapshot and returns the
// snapshot ID now in force.
func (p *Policy) sync(view hierarchy.View) string {
	id := view.SnapshotID()

	p.mu.RLock()
	current := p.snapshotID
	p.mu.RUnlock()
	if current == id {
		return id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshotID != id {
		if p.snapshotID != "" {
			p.logger.Debug("filter verdict cache purged",
				slog.String("old_snapshot", p.snapshotID),
				slog.String("new_snapshot", id),
				slog.Int("entries", p.verdicts.Len()),
			)
			recordCachePurge()
		}
		p.verdicts.Purge()
		p.snapshotID = id
	}
	return id
}

func (p *Policy) evaluate(src sig.Method, view hierarchy.View) bool {
	for _, e := range p.entries {
		if e.Matches(src, view) {
			return e.Denies()
		}
	}
	return p.defaultDeny
}

// CachedVerdicts returns the number of memoized source verdicts.
func (p *Policy) CachedVerdicts() int { return p.verdicts.Len() }

// String renders the policy as one rule per line, default last.
func (p *Policy) String() string {
	var b strings.Builder
	for i, e := range p.entries {
		fmt.Fprintf(&b, "%d: %s\n", i, e.Describe())
	}
	fmt.Fprintf(&b, "default: %s\n", action(p.defaultDeny))
	return b.String()
}
