package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promo-code-engine/internal/cache"
	"promo-code-engine/internal/captcha"
	"promo-code-engine/internal/identity"
	"promo-code-engine/internal/retry"
)

type unavailable struct{}

func (unavailable) Error() string   { return "status 503" }
func (unavailable) StatusCode() int { return http.StatusServiceUnavailable }

type fakeGateway struct {
	mu          sync.Mutex
	ops         []Operation
	fetchErrs   []error // consumed one per call
	fetchCalls  int
	warmupErr   error
	confirm     func(code, promotionID string) (bool, error)
	confirmArgs []string
	lastAuth    Auth
}

func (g *fakeGateway) Warmup(context.Context, Auth) error { return g.warmupErr }

func (g *fakeGateway) FetchOperations(_ context.Context, auth Auth) ([]Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	g.lastAuth = auth
	if len(g.fetchErrs) > 0 {
		err := g.fetchErrs[0]
		g.fetchErrs = g.fetchErrs[1:]
		return nil, err
	}
	return g.ops, nil
}

func (g *fakeGateway) ConfirmChoice(_ context.Context, _ Auth, code, promotionID string) (bool, error) {
	g.mu.Lock()
	g.confirmArgs = append(g.confirmArgs, code+"/"+promotionID)
	g.mu.Unlock()
	if g.confirm == nil {
		return true, nil
	}
	return g.confirm(code, promotionID)
}

type countingResolver struct {
	calls int32
	err   error
}

func (r *countingResolver) Resolve(context.Context) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	return "captcha-token", r.err
}

type memRecorder struct{ runs []RunRecord }

func (m *memRecorder) RecordRun(_ context.Context, r RunRecord) error {
	m.runs = append(m.runs, r)
	return nil
}

func testCatalog() Catalog {
	return NewCatalog([]ProductSpec{
		{Type: ProductDual, Name: "Dual Product", Code: "dual-product", RequiredChoices: true},
		{Type: ProductSingle, Name: "Single Product", Code: "single-product"},
	}, map[Choice]string{"B": "promo-b", "V": "promo-v"})
}

func dualCatalogOps(codes ...string) []Operation {
	op := Operation{Name: "Dual Product", Code: "dual-product"}
	for _, c := range codes {
		op.Coupons = append(op.Coupons, Coupon{RestaurantCode: c})
	}
	return []Operation{{Name: "Other", Code: "other", Coupons: []Coupon{{RestaurantCode: "X0000"}}}, op}
}

func newTestEngine(gw *fakeGateway, solver captcha.Resolver) *Engine {
	policy := retry.Policy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	return New(identity.NewSynthesizer("s3cr3t"), solver, gw, cache.NewSnapshot(testCatalog()), policy)
}

func TestAcquireCodes_DualSuccess(t *testing.T) {
	tests := []struct {
		choices []Choice
		want    []string
	}{
		{[]Choice{"B", "V"}, []string{"B1234", "V5678"}},
		{[]Choice{"V", "B"}, []string{"V1234", "B5678"}},
		{[]Choice{"B", "B"}, []string{"B1234", "B5678"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.choices), func(t *testing.T) {
			gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678", "B9999")}
			res, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: tt.choices})
			require.NoError(t, err)

			assert.Equal(t, tt.want[0], res.CodeA())
			codeB, ok := res.CodeB()
			assert.True(t, ok)
			assert.Equal(t, tt.want[1], codeB)
			for i, c := range res.Codes {
				assert.Equal(t, tt.choices[i], c.Choice)
			}
			assert.ElementsMatch(t, []string{
				"B1234/promo-" + lower(tt.choices[0]),
				"V5678/promo-" + lower(tt.choices[1]),
			}, gw.confirmArgs)
		})
	}
}

func lower(c Choice) string {
	return map[Choice]string{"B": "b", "V": "v"}[c]
}

func TestAcquireCodes_AuthPayload(t *testing.T) {
	gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678")}
	_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
	require.NoError(t, err)

	assert.Equal(t, "captcha-token", gw.lastAuth.Captcha)
	assert.Equal(t, identity.Digest(gw.lastAuth.DeviceID, "s3cr3t"), gw.lastAuth.Digest)
}

func TestAcquireCodes_ActivationAllOrNothing(t *testing.T) {
	tests := []struct {
		name    string
		confirm func(code, promotionID string) (bool, error)
	}{
		{"first not confirmed", func(code, _ string) (bool, error) { return code != "B1234", nil }},
		{"second errors", func(code, _ string) (bool, error) {
			if code == "V5678" {
				return false, errors.New("status 400")
			}
			return true, nil
		}},
		{"second exhausted", func(code, _ string) (bool, error) {
			if code == "V5678" {
				return false, unavailable{}
			}
			return true, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678"), confirm: tt.confirm}
			res, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})

			require.Error(t, err)
			assert.Equal(t, KindActivation, KindOf(err))
			assert.Empty(t, res.Codes)
			assert.Contains(t, err.Error(), "already consumed")
		})
	}
}

func TestAcquireCodes_InvalidChoiceBeforeNetwork(t *testing.T) {
	for _, choices := range [][]Choice{{"B", "Z"}, {"B"}, nil, {"b", "V"}} {
		t.Run(fmt.Sprint(choices), func(t *testing.T) {
			gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678")}
			solver := &countingResolver{}
			_, err := newTestEngine(gw, solver).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: choices})

			assert.Equal(t, KindInvalidChoice, KindOf(err))
			assert.ErrorIs(t, err, ErrInvalidChoice)
			assert.Zero(t, solver.calls)
			assert.Zero(t, gw.fetchCalls)
			assert.Empty(t, gw.confirmArgs)
		})
	}
}

func TestAcquireCodes_LetterRoundTrip(t *testing.T) {
	cat := testCatalog()
	for _, a := range cat.Letters() {
		for _, b := range cat.Letters() {
			gw := &fakeGateway{ops: dualCatalogOps("Q1111", "Q2222")}
			res, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{a, b}})
			require.NoError(t, err)
			assert.Equal(t, string(a)+"1111", res.Codes[0].Code)
			assert.Equal(t, string(b)+"2222", res.Codes[1].Code)
		}
	}
}

func TestAcquireCodes_Single(t *testing.T) {
	tests := []struct {
		name    string
		coupons []Coupon
		wantA   string
		wantB   string
		hasB    bool
	}{
		{"one coupon", []Coupon{{RestaurantCode: "G1"}}, "G1", "", false},
		{"three coupons", []Coupon{{RestaurantCode: "G1"}, {RestaurantCode: "G2"}, {RestaurantCode: "G3"}}, "G1", "G2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{ops: []Operation{{Name: "Single Product", Coupons: tt.coupons}}}
			res, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductSingle, Choices: []Choice{"Z"}})
			require.NoError(t, err)

			assert.Equal(t, tt.wantA, res.CodeA())
			b, ok := res.CodeB()
			assert.Equal(t, tt.hasB, ok)
			assert.Equal(t, tt.wantB, b)
			assert.Empty(t, gw.confirmArgs)
		})
	}
}

func TestAcquireCodes_FailureKinds(t *testing.T) {
	t.Run("captcha", func(t *testing.T) {
		gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678")}
		solver := &countingResolver{err: errors.New("solver timeout")}
		_, err := newTestEngine(gw, solver).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
		assert.Equal(t, KindCaptcha, KindOf(err))
		assert.EqualValues(t, 1, solver.calls)
		assert.Zero(t, gw.fetchCalls)
	})

	t.Run("missing secret", func(t *testing.T) {
		gw := &fakeGateway{}
		solver := &countingResolver{}
		e := newTestEngine(gw, solver)
		e.identities = identity.NewSynthesizer("")
		_, err := e.AcquireCodes(context.Background(), Request{Product: ProductSingle})
		assert.Equal(t, KindConfiguration, KindOf(err))
		assert.ErrorIs(t, err, identity.ErrMissingSecret)
		assert.Zero(t, solver.calls)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := newTestEngine(&fakeGateway{}, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: "combo"})
		assert.Equal(t, KindConfiguration, KindOf(err))
	})

	t.Run("catalog exhausted", func(t *testing.T) {
		gw := &fakeGateway{fetchErrs: []error{unavailable{}, unavailable{}, unavailable{}, unavailable{}}}
		_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductSingle})
		assert.Equal(t, KindRetriesExhausted, KindOf(err))
		assert.ErrorIs(t, err, retry.ErrExhausted)
		assert.Equal(t, 3, gw.fetchCalls)
	})

	t.Run("catalog remote error", func(t *testing.T) {
		gw := &fakeGateway{fetchErrs: []error{errors.New("status 401")}}
		_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductSingle})
		assert.Equal(t, KindRemote, KindOf(err))
		assert.Equal(t, 1, gw.fetchCalls)
	})

	t.Run("insufficient codes", func(t *testing.T) {
		gw := &fakeGateway{ops: dualCatalogOps("B1234")}
		_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
		assert.Equal(t, KindCatalogMismatch, KindOf(err))
		assert.ErrorIs(t, err, ErrInsufficientCodes)
		assert.Empty(t, gw.confirmArgs)
	})
}

func TestAcquireCodes_CatalogRecoversAfterTransientFaults(t *testing.T) {
	gw := &fakeGateway{
		ops:       []Operation{{Code: "single-product", Coupons: []Coupon{{RestaurantCode: "G1"}}}},
		fetchErrs: []error{unavailable{}, unavailable{}},
	}
	res, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductSingle})
	require.NoError(t, err)
	assert.Equal(t, "G1", res.CodeA())
	assert.Equal(t, 3, gw.fetchCalls)
}

func TestAcquireCodes_WarmupFailureIgnored(t *testing.T) {
	gw := &fakeGateway{ops: dualCatalogOps("B1234", "V5678"), warmupErr: errors.New("features: 500")}
	_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
	assert.NoError(t, err)
}

func TestAcquireCodes_ConfirmCallsOverlap(t *testing.T) {
	var (
		mu      sync.Mutex
		events  []string
		started int32
		release = make(chan struct{})
	)
	gw := &fakeGateway{
		ops: dualCatalogOps("B1234", "V5678"),
		confirm: func(code, _ string) (bool, error) {
			mu.Lock()
			events = append(events, "start "+code)
			mu.Unlock()
			if atomic.AddInt32(&started, 1) == 2 {
				close(release)
			}
			// a sequential caller would never start the second call
			select {
			case <-release:
			case <-time.After(2 * time.Second):
				return false, errors.New("second confirm never started")
			}
			mu.Lock()
			events = append(events, "end "+code)
			mu.Unlock()
			return true, nil
		},
	}
	_, err := newTestEngine(gw, &countingResolver{}).AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Contains(t, events[0], "start")
	assert.Contains(t, events[1], "start")
}

func TestAcquireCodes_RecordsOutcome(t *testing.T) {
	rec := &memRecorder{}
	gw := &fakeGateway{ops: dualCatalogOps("B1234")}
	e := newTestEngine(gw, &countingResolver{}).WithRecorder(rec)

	_, err := e.AcquireCodes(context.Background(), Request{Product: ProductDual, Choices: []Choice{"B", "V"}})
	require.Error(t, err)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, string(KindCatalogMismatch), rec.runs[0].Outcome)
	assert.Equal(t, StageCaptchaResolved, rec.runs[0].Stage)
	assert.NotEmpty(t, rec.runs[0].RunID)
}
