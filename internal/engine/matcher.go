package engine

import (
	"fmt"
	"unicode/utf8"
)

// MatchCoupons walks ops in server order and collects the coupons of the
// operations matching spec, stopping at CodesPerRun.
func MatchCoupons(ops []Operation, spec ProductSpec) ([]Coupon, error) {
	var coupons []Coupon
scan:
	for _, op := range ops {
		if !spec.Matches(op) {
			continue
		}
		for _, c := range op.Coupons {
			if c.RestaurantCode == "" {
				continue
			}
			coupons = append(coupons, c)
			if len(coupons) == CodesPerRun {
				break scan
			}
		}
	}

	if len(coupons) == 0 {
		return nil, &Error{Kind: KindCatalogMismatch, Op: "match " + spec.Code, Err: ErrNoCodes}
	}
	if spec.RequiredChoices && len(coupons) < CodesPerRun {
		return nil, &Error{
			Kind: KindCatalogMismatch,
			Op:   fmt.Sprintf("match %s: found %d of %d", spec.Code, len(coupons), CodesPerRun),
			Err:  ErrInsufficientCodes,
		}
	}
	return coupons, nil
}

// applyChoice overwrites the first character of a restaurant code.
func applyChoice(ch Choice, restaurantCode string) string {
	_, n := utf8.DecodeRuneInString(restaurantCode)
	return string(ch) + restaurantCode[n:]
}
