// Package routing resolves inbound (channel, bot, account, peer) tuples to
// the agent that should handle them.
package routing

import (
	"context"
	"sort"

	"github.com/primehq/prime/pkg/models"
)

// BindingSource lists candidate bindings for a channel. Implemented by the
// relational store.
type BindingSource interface {
	ActiveBindings(ctx context.Context, channel models.ChannelType) ([]*models.Binding, error)
}

// Resolver matches bindings specificity-first. It is read-only and holds no
// state beyond its source.
type Resolver struct {
	source BindingSource
}

// NewResolver creates a binding resolver over the given source.
func NewResolver(source BindingSource) *Resolver {
	return &Resolver{source: source}
}

// Query is the fully-qualified routing input.
type Query struct {
	Channel   models.ChannelType
	BotID     string
	AccountID string
	Peer      string
}

// Resolve returns the single best active binding for the query, or nil when
// nothing matches. Tie-break order: specificity tier, then priority
// ascending, then binding id for determinism.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*models.Binding, error) {
	candidates, err := r.source.ActiveBindings(ctx, q.Channel)
	if err != nil {
		return nil, err
	}

	type scored struct {
		binding *models.Binding
		tier    int
	}
	var matches []scored
	for _, b := range candidates {
		tier, ok := matchTier(b, q)
		if !ok {
			continue
		}
		matches = append(matches, scored{binding: b, tier: tier})
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].tier != matches[j].tier {
			return matches[i].tier < matches[j].tier
		}
		if matches[i].binding.Priority != matches[j].binding.Priority {
			return matches[i].binding.Priority < matches[j].binding.Priority
		}
		return matches[i].binding.ID < matches[j].binding.ID
	})
	return matches[0].binding, nil
}

// matchTier returns the specificity tier of b against q (0 is most
// specific). A binding with a concrete field that differs from the query
// does not match at all.
func matchTier(b *models.Binding, q Query) (int, bool) {
	if b.Channel != q.Channel {
		return 0, false
	}
	if b.BotID != "" && b.BotID != q.BotID {
		return 0, false
	}
	if b.AccountID != "" && b.AccountID != q.AccountID {
		return 0, false
	}
	if b.Peer != "" && b.Peer != q.Peer {
		return 0, false
	}

	switch {
	case b.BotID != "" && b.AccountID != "" && b.Peer != "":
		return 0, true
	case b.BotID != "" && b.AccountID != "":
		return 1, true
	case b.BotID != "":
		return 2, true
	default:
		return 3, true
	}
}
