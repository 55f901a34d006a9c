package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"promo-code-engine/internal/cache"
	"promo-code-engine/internal/captcha"
	"promo-code-engine/internal/identity"
	"promo-code-engine/internal/observability"
	"promo-code-engine/internal/retry"
)

// Gateway is the remote retail API.
type Gateway interface {
	// Warmup hits the optional pre-catalog endpoints. Failures are not fatal.
	Warmup(ctx context.Context, auth Auth) error
	FetchOperations(ctx context.Context, auth Auth) ([]Operation, error)
	// ConfirmChoice reports whether the remote side answered with success.
	ConfirmChoice(ctx context.Context, auth Auth, couponCode, promotionID string) (bool, error)
}

type IdentitySource interface {
	Synthesize() (identity.Identity, error)
}

// Recorder persists run outcomes. Codes are never passed to it.
type Recorder interface {
	RecordRun(ctx context.Context, r RunRecord) error
}

type RunRecord struct {
	RunID    string
	Product  ProductType
	Outcome  string
	Stage    Stage
	Duration time.Duration
	At       time.Time
}

// Stage is the last state a run reached.
type Stage string

const (
	StageInit                Stage = "init"
	StageIdentitySynthesized Stage = "identity_synthesized"
	StageCaptchaResolved     Stage = "captcha_resolved"
	StageCatalogFetched      Stage = "catalog_fetched"
	StageActivated           Stage = "activated"
	StageComplete            Stage = "complete"
)

// Engine runs acquisitions. Runs share no mutable state.
type Engine struct {
	identities IdentitySource
	solver     captcha.Resolver
	gateway    Gateway
	catalog    *cache.Snapshot[Catalog]
	policy     retry.Policy
	recorder   Recorder
}

func New(ids IdentitySource, solver captcha.Resolver, gw Gateway, catalog *cache.Snapshot[Catalog], policy retry.Policy) *Engine {
	return &Engine{
		identities: ids,
		solver:     solver,
		gateway:    gw,
		catalog:    catalog,
		policy:     policy,
	}
}

func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// AcquireCodes performs one full run: identity, captcha, catalog and, for
// dual-choice products, activation. It returns every code or none.
func (e *Engine) AcquireCodes(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("product", string(req.Product)).Logger()

	codes, stage, err := e.run(ctx, req, logger)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		logger.Warn().Err(err).Str("kind", outcome).Str("stage", string(stage)).Msg("acquisition failed")
	} else {
		logger.Info().Int("codes", len(codes)).Dur("took", time.Since(start)).Msg("acquisition complete")
	}
	observability.RunsTotal.WithLabelValues(string(req.Product), outcome).Inc()
	observability.RunDuration.Observe(time.Since(start).Seconds())

	if e.recorder != nil {
		rec := RunRecord{RunID: runID, Product: req.Product, Outcome: outcome, Stage: stage, Duration: time.Since(start), At: start}
		if rerr := e.recorder.RecordRun(ctx, rec); rerr != nil {
			logger.Error().Err(rerr).Msg("record run")
		}
	}

	if err != nil {
		return Result{}, err
	}
	return Result{RunID: runID, Product: req.Product, Codes: codes}, nil
}

func (e *Engine) run(ctx context.Context, req Request, logger zerolog.Logger) ([]GeneratedCode, Stage, error) {
	stage := StageInit
	catalog, ok := e.catalog.Load()
	if !ok {
		return nil, stage, &Error{Kind: KindConfiguration, Op: "load catalog", Err: ErrUnknownProduct}
	}
	spec, err := catalog.Product(req.Product)
	if err != nil {
		return nil, stage, err
	}

	// choices are validated before any network call
	var promotionIDs []string
	if spec.RequiredChoices {
		if len(req.Choices) != CodesPerRun {
			return nil, stage, &Error{Kind: KindInvalidChoice, Op: "dual product needs 2 choices", Err: ErrInvalidChoice}
		}
		for _, ch := range req.Choices {
			id, err := catalog.Promotion(ch)
			if err != nil {
				return nil, stage, err
			}
			promotionIDs = append(promotionIDs, id)
		}
	}

	id, err := e.identities.Synthesize()
	if err != nil {
		return nil, stage, &Error{Kind: KindConfiguration, Op: "synthesize identity", Err: err}
	}
	stage = StageIdentitySynthesized
	logger.Debug().Str("stage", string(stage)).Msg("transition")

	token, err := e.solver.Resolve(ctx)
	if err != nil {
		return nil, stage, &Error{Kind: KindCaptcha, Op: "resolve captcha", Err: err}
	}
	stage = StageCaptchaResolved
	logger.Debug().Str("stage", string(stage)).Msg("transition")

	auth := Auth{DeviceID: id.ID, Digest: id.Digest, Captcha: token}

	if err := e.gateway.Warmup(ctx, auth); err != nil {
		logger.Warn().Err(err).Msg("warm-up failed; continuing")
	}

	ops, err := retry.Do(ctx, e.policyFor("catalog", logger), func(ctx context.Context) ([]Operation, error) {
		return e.gateway.FetchOperations(ctx, auth)
	})
	if err != nil {
		return nil, stage, remoteError("fetch catalog", err)
	}
	coupons, err := MatchCoupons(ops, spec)
	if err != nil {
		return nil, stage, err
	}
	stage = StageCatalogFetched
	logger.Debug().Str("stage", string(stage)).Int("coupons", len(coupons)).Msg("transition")

	if !spec.RequiredChoices {
		codes := make([]GeneratedCode, 0, len(coupons))
		for _, c := range coupons {
			codes = append(codes, GeneratedCode{Code: c.RestaurantCode})
		}
		return codes, StageComplete, nil
	}

	codes, err := e.activate(ctx, auth, coupons, req.Choices, promotionIDs, logger)
	if err != nil {
		return nil, stage, err
	}
	logger.Debug().Str("stage", string(StageActivated)).Msg("transition")
	return codes, StageComplete, nil
}

// policyFor labels retries of one call site in logs and metrics.
func (e *Engine) policyFor(call string, logger zerolog.Logger) retry.Policy {
	p := e.policy
	p.OnRetry = func(attempt int, err error) {
		observability.RetriesTotal.WithLabelValues(call).Inc()
		logger.Info().Err(err).Str("call", call).Int("attempt", attempt).Int("max", p.MaxAttempts).Msg("service unavailable; retrying")
	}
	return p
}
