package broadcast

import (
	"context"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
)

// Route is the broadcaster used for one chain. Waiter may be nil when the chain has no finality polling.
type Route struct {
	Broadcaster Broadcaster
	Waiter      FinalityWaiter
}

// Router dispatches by chain to the configured broadcaster
type Router struct {
	routes map[staking.ChainKind]Route
}

// NewRouter creates a router over routes
func NewRouter(routes map[staking.ChainKind]Route) *Router {
	copied := make(map[staking.ChainKind]Route, len(routes))
	for chain, r := range routes {
		copied[chain] = r
	}
	return &Router{routes: copied}
}

// NewRoute builds a route from a broadcaster that may also wait for finality
func NewRoute(b Broadcaster) Route {
	r := Route{Broadcaster: b}
	if w, ok := b.(FinalityWaiter); ok {
		r.Waiter = w
	}
	return r
}

func (r *Router) Name() string {
	return "router"
}

func (r *Router) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	route, ok := r.routes[signed.Chain]
	if !ok || route.Broadcaster == nil {
		return "", Rejected(signed.Chain, errors.Errorf("no broadcaster configured for %s", signed.Chain))
	}
	return route.Broadcaster.Broadcast(ctx, signed)
}

func (r *Router) WaitForFinality(ctx context.Context, chain staking.ChainKind, hash string) (*Finality, error) {
	route, ok := r.routes[chain]
	if !ok || route.Waiter == nil {
		return &Finality{Hash: hash, Status: StatusPending}, nil
	}
	return route.Waiter.WaitForFinality(ctx, chain, hash)
}

// BroadcasterName returns the name of the broadcaster routed for chain
func (r *Router) BroadcasterName(chain staking.ChainKind) string {
	if route, ok := r.routes[chain]; ok && route.Broadcaster != nil {
		return route.Broadcaster.Name()
	}
	return ""
}
