// Package votes keeps per-item like/dislike tallies, updated optimistically
// and reconciled against the remote vote ledger.
package votes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/broadcast"
	"github.com/mcdev12/tandem/go/internal/identity"
	"github.com/mcdev12/tandem/go/internal/metrics"
)

var (
	ErrInvalidDirection = errors.New("vote direction must be +1 or -1")
	ErrMissingItem      = errors.New("item id is required")
)

type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// ParseDirection accepts "up"/"like"/"+1" and "down"/"dislike"/"-1".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "like", "+1", "1":
		return Up, nil
	case "down", "dislike", "-1":
		return Down, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Tally is the local view of one item's votes. UserVote is -1, 0 or +1.
type Tally struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
	UserVote int `json:"user_vote"`
}

// Toggle applies a vote in direction d to t. Voting the current direction
// again clears the vote; voting the other direction switches sides.
func Toggle(t Tally, d Direction) Tally {
	dir := int(d)
	switch t.UserVote {
	case dir:
		t.bump(dir, -1)
		t.UserVote = 0
	case 0:
		t.bump(dir, 1)
		t.UserVote = dir
	default:
		t.bump(t.UserVote, -1)
		t.bump(dir, 1)
		t.UserVote = dir
	}
	return t
}

func (t *Tally) bump(vote, delta int) {
	if vote > 0 {
		t.Likes += delta
	} else {
		t.Dislikes += delta
	}
}

// Update is delivered to subscribers after every local change.
type Update struct {
	ItemID     string `json:"item_id"`
	Tally      Tally  `json:"tally"`
	RolledBack bool   `json:"rolled_back,omitempty"`
}

type VoteClient interface {
	SubmitVote(ctx context.Context, req *backend.SubmitVoteRequest) (*backend.SubmitVoteResponse, error)
}

// DeviceIDSource returns the persisted anonymous device id.
type DeviceIDSource interface {
	AnonymousID(ctx context.Context) (string, error)
}

// Aggregator owns the tallies. Votes on the same item are not serialized
// against each other; a rollback restores the snapshot taken by its own
// vote even if a later vote has changed the item since.
type Aggregator struct {
	client  VoteClient
	devices DeviceIDSource
	salt    string
	metrics metrics.Collector
	hub     *broadcast.Hub[Update]
	emitMu  sync.Mutex

	voterMu sync.Mutex
	voterID string

	mu      sync.Mutex
	tallies map[string]Tally
}

type Option func(*Aggregator)

func WithMetrics(m metrics.Collector) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(client VoteClient, devices DeviceIDSource, salt string, opts ...Option) *Aggregator {
	a := &Aggregator{
		client:  client,
		devices: devices,
		salt:    salt,
		metrics: metrics.NoOp{},
		hub:     broadcast.NewHub[Update](),
		tallies: make(map[string]Tally),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Seed installs an authoritative tally, e.g. counts loaded with the item.
func (a *Aggregator) Seed(itemID string, t Tally) {
	a.set(itemID, func(Tally) Tally { return t }, false)
}

// Tally returns the current tally for itemID; unknown items are zero.
func (a *Aggregator) Tally(itemID string) Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tallies[itemID]
}

// Tallies returns a copy of every tally.
func (a *Aggregator) Tallies() map[string]Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Tally, len(a.tallies))
	for id, t := range a.tallies {
		out[id] = t
	}
	return out
}

func (a *Aggregator) Subscribe(fn func(Update)) func() {
	return a.hub.Subscribe(fn)
}

// Vote applies d locally, then submits the resulting vote. On any failure,
// including a rate-limited answer, the item is restored to its tally from
// before this call and the error is returned.
func (a *Aggregator) Vote(ctx context.Context, itemID string, d Direction) (Tally, error) {
	if strings.TrimSpace(itemID) == "" {
		return Tally{}, ErrMissingItem
	}
	if !d.Valid() {
		return Tally{}, fmt.Errorf("%w: %d", ErrInvalidDirection, d)
	}

	voterID, err := a.voter(ctx)
	if err != nil {
		return a.Tally(itemID), fmt.Errorf("failed to derive voter id: %w", err)
	}

	var prev Tally
	next := a.set(itemID, func(t Tally) Tally {
		prev = t
		return Toggle(t, d)
	}, false)

	resp, err := a.client.SubmitVote(ctx, &backend.SubmitVoteRequest{
		ItemID:  itemID,
		VoterID: voterID,
		Vote:    next.UserVote,
	})
	if err == nil && resp != nil && resp.Status == backend.VoteStatusRateLimited {
		err = backend.ErrRateLimited
	}
	if err == nil {
		a.metrics.RecordVote(metrics.VoteOutcomeOK)
		log.Debug().Str("item_id", itemID).Int("vote", next.UserVote).Msg("vote reconciled")
		return next, nil
	}

	outcome := metrics.VoteOutcomeError
	if backend.IsRateLimited(err) {
		outcome = metrics.VoteOutcomeRateLimited
	}
	a.metrics.RecordVote(outcome)

	a.set(itemID, func(current Tally) Tally {
		if current != next {
			log.Warn().
				Str("item_id", itemID).
				Msg("item changed by a concurrent vote; rollback discards that change")
		}
		return prev
	}, true)

	log.Warn().Err(err).Str("item_id", itemID).Str("outcome", outcome).Msg("vote rejected, rolled back")
	return prev, fmt.Errorf("submit vote: %w", err)
}

func (a *Aggregator) voter(ctx context.Context) (string, error) {
	a.voterMu.Lock()
	defer a.voterMu.Unlock()
	if a.voterID != "" {
		return a.voterID, nil
	}

	id, err := a.devices.AnonymousID(ctx)
	if err != nil {
		return "", err
	}
	voterID, err := identity.Derive(identity.PurposeVote, id, a.salt)
	if err != nil {
		return "", err
	}
	a.voterID = voterID
	return voterID, nil
}

// set replaces itemID's tally with mutate's result and delivers it, keeping
// delivery in apply order.
func (a *Aggregator) set(itemID string, mutate func(Tally) Tally, rolledBack bool) Tally {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	t := mutate(a.tallies[itemID])
	a.tallies[itemID] = t
	a.mu.Unlock()

	a.hub.Publish(Update{ItemID: itemID, Tally: t, RolledBack: rolledBack})
	return t
}
