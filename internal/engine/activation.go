package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"promo-code-engine/internal/retry"
)

// activate confirms every coupon concurrently and succeeds only if all of
// them report success. A failed activation may leave some coupons consumed
// on the remote side; there is no reversal call.
func (e *Engine) activate(ctx context.Context, auth Auth, coupons []Coupon, choices []Choice, promotionIDs []string, logger zerolog.Logger) ([]GeneratedCode, error) {
	failures := make([]error, len(coupons))

	var g errgroup.Group
	for i := range coupons {
		g.Go(func() error {
			ok, err := retry.Do(ctx, e.policyFor("confirm", logger), func(ctx context.Context) (bool, error) {
				return e.gateway.ConfirmChoice(ctx, auth, coupons[i].RestaurantCode, promotionIDs[i])
			})
			if err == nil && !ok {
				err = ErrNotConfirmed
			}
			failures[i] = err
			return err
		})
	}
	if err := g.Wait(); err != nil {
		var confirmed, failed []string
		for i, ferr := range failures {
			if ferr == nil {
				confirmed = append(confirmed, fmt.Sprint(i+1))
			} else {
				failed = append(failed, fmt.Sprint(i+1))
			}
		}
		op := "confirm slots " + strings.Join(failed, ",")
		if len(confirmed) > 0 {
			op += " (slots " + strings.Join(confirmed, ",") + " already consumed)"
		}
		return nil, &Error{Kind: KindActivation, Op: op, Err: err}
	}

	codes := make([]GeneratedCode, len(coupons))
	for i, c := range coupons {
		codes[i] = GeneratedCode{Choice: choices[i], Code: applyChoice(choices[i], c.RestaurantCode)}
	}
	return codes, nil
}
