// Package session holds the per-caller selection record collected by the
// chat wizard. A session is created at the start of a flow, taken exactly
// once when the caller confirms, and then gone.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promo-code-engine/internal/engine"
)

const MaxLots = 10

var (
	ErrNotFound    = errors.New("no open session for caller")
	ErrExists      = errors.New("caller already has an open session")
	ErrInvalidPlan = errors.New("invalid selection")
)

type Session struct {
	CallerID  string             `json:"caller_id"`
	Product   engine.ProductType `json:"product"`
	Lots      int                `json:"lots"`
	Choices   []engine.Choice    `json:"choices,omitempty"` // 2 per lot, dual products only
	CreatedAt time.Time          `json:"created_at"`
}

// Plan builds a session for lots runs. For a dual product the first countA
// slots get the first configured letter and the rest the second one.
func Plan(callerID string, spec engine.ProductSpec, catalog engine.Catalog, lots, countA int) (Session, error) {
	if callerID == "" {
		return Session{}, fmt.Errorf("%w: caller is required", ErrInvalidPlan)
	}
	if lots < 1 || lots > MaxLots {
		return Session{}, fmt.Errorf("%w: lots must be within 1..%d", ErrInvalidPlan, MaxLots)
	}
	s := Session{CallerID: callerID, Product: spec.Type, Lots: lots, CreatedAt: time.Now().UTC()}
	if !spec.RequiredChoices {
		return s, nil
	}

	letters := catalog.Letters()
	if len(letters) < 2 {
		return Session{}, fmt.Errorf("%w: two promotion variants must be configured", ErrInvalidPlan)
	}
	total := lots * engine.CodesPerRun
	if countA < 0 || countA > total {
		return Session{}, fmt.Errorf("%w: count must be within 0..%d", ErrInvalidPlan, total)
	}
	s.Choices = make([]engine.Choice, 0, total)
	for i := 0; i < total; i++ {
		if i < countA {
			s.Choices = append(s.Choices, letters[0])
		} else {
			s.Choices = append(s.Choices, letters[1])
		}
	}
	return s, nil
}

// Requests returns one acquisition request per lot, in order.
func (s Session) Requests() []engine.Request {
	out := make([]engine.Request, 0, s.Lots)
	for i := 0; i < s.Lots; i++ {
		req := engine.Request{Product: s.Product}
		if len(s.Choices) > 0 {
			lo, hi := i*engine.CodesPerRun, (i+1)*engine.CodesPerRun
			req.Choices = s.Choices[lo:hi:hi]
		}
		out = append(out, req)
	}
	return out
}

type Store interface {
	Create(ctx context.Context, s Session) error
	// Take returns and removes the caller's session.
	Take(ctx context.Context, callerID string) (Session, error)
	Discard(ctx context.Context, callerID string) error
}

type Acquirer interface {
	AcquireCodes(ctx context.Context, req engine.Request) (engine.Result, error)
}

type Runner struct {
	acquirer Acquirer
}

func NewRunner(a Acquirer) *Runner { return &Runner{acquirer: a} }

// Run acquires each lot in turn. On failure it returns the lots completed so
// far together with the error.
func (r *Runner) Run(ctx context.Context, s Session) ([]engine.Result, error) {
	var done []engine.Result
	for i, req := range s.Requests() {
		res, err := r.acquirer.AcquireCodes(ctx, req)
		if err != nil {
			return done, fmt.Errorf("lot %d of %d: %w", i+1, s.Lots, err)
		}
		done = append(done, res)
	}
	return done, nil
}
