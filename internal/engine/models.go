package engine

import "sort"

// CodesPerRun is how many coupons a single run consumes at most.
const CodesPerRun = 2

type ProductType string

const (
	ProductDual   ProductType = "dual"
	ProductSingle ProductType = "single"
)

// Choice is a single promotion-variant letter.
type Choice string

// ProductSpec identifies a product in the remote catalog.
type ProductSpec struct {
	Type            ProductType
	Name            string
	Code            string
	RequiredChoices bool
}

func (p ProductSpec) Matches(op Operation) bool {
	return (p.Name != "" && op.Name == p.Name) || (p.Code != "" && op.Code == p.Code)
}

// Operation is a remote promotional campaign, read-only.
type Operation struct {
	Name    string   `json:"name"`
	Code    string   `json:"code"`
	Coupons []Coupon `json:"coupons"`
}

type Coupon struct {
	RestaurantCode string `json:"restaurantCode"`
}

// Auth is the authentication payload sent with every remote call of a run.
type Auth struct {
	DeviceID string `json:"king"`
	Digest   string `json:"hash"`
	Captcha  string `json:"queen"`
}

type GeneratedCode struct {
	Choice Choice `json:"choice,omitempty"`
	Code   string `json:"code"`
}

type Request struct {
	Product ProductType
	Choices []Choice // one per slot, dual products only
}

type Result struct {
	RunID   string
	Product ProductType
	Codes   []GeneratedCode
}

func (r Result) CodeA() string {
	if len(r.Codes) == 0 {
		return ""
	}
	return r.Codes[0].Code
}

// CodeB is absent for single-choice runs that found one coupon.
func (r Result) CodeB() (string, bool) {
	if len(r.Codes) < 2 {
		return "", false
	}
	return r.Codes[1].Code, true
}

// Catalog is the static product and promotion-variant configuration.
type Catalog struct {
	Products   map[ProductType]ProductSpec
	Promotions map[Choice]string
}

func NewCatalog(products []ProductSpec, promotions map[Choice]string) Catalog {
	c := Catalog{
		Products:   make(map[ProductType]ProductSpec, len(products)),
		Promotions: make(map[Choice]string, len(promotions)),
	}
	for _, p := range products {
		c.Products[p.Type] = p
	}
	for k, v := range promotions {
		c.Promotions[k] = v
	}
	return c
}

func (c Catalog) Product(t ProductType) (ProductSpec, error) {
	p, ok := c.Products[t]
	if !ok {
		return ProductSpec{}, &Error{Kind: KindConfiguration, Op: "product " + string(t), Err: ErrUnknownProduct}
	}
	return p, nil
}

func (c Catalog) Promotion(ch Choice) (string, error) {
	id, ok := c.Promotions[ch]
	if !ok || id == "" {
		return "", &Error{Kind: KindInvalidChoice, Op: "choice " + string(ch), Err: ErrInvalidChoice}
	}
	return id, nil
}

// Letters returns the configured choice letters in sorted order.
func (c Catalog) Letters() []Choice {
	out := make([]Choice, 0, len(c.Promotions))
	for k := range c.Promotions {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
