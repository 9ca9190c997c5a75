package plans

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPlanNotFound is returned when a plan ID is unknown to the catalog
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidPlan is returned when a plan fails validation
	ErrInvalidPlan = errors.New("invalid plan")
)

// Term is the billing cadence of a subscription
type Term string

const (
	TermMonthly Term = "monthly"
	TermAnnual  Term = "annual"
)

// Valid reports whether t is a known term
func (t Term) Valid() bool {
	return t == TermMonthly || t == TermAnnual
}

// Visibility controls whether a plan is offered in the storefront
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	VisibilityHidden Visibility = "hidden"
)

// Plan represents a subscription plan
type Plan struct {
	ID                    string     `json:"id" yaml:"id"`
	Name                  string     `json:"name" yaml:"name"`
	MonthlyPriceCents     int64      `json:"monthly_price_cents" yaml:"monthly_price_cents"`
	AnnualPriceCents      int64      `json:"annual_price_cents" yaml:"annual_price_cents"`
	LoyaltyMultiplier     float64    `json:"loyalty_multiplier" yaml:"loyalty_multiplier"`
	MonthsOfferedOnAnnual int        `json:"months_offered_on_annual" yaml:"months_offered_on_annual"`
	DisplayOrder          int        `json:"display_order" yaml:"display_order"`
	Visibility            Visibility `json:"visibility" yaml:"visibility"`
	IsActive              bool       `json:"is_active" yaml:"is_active"`
	Deprecated            bool       `json:"deprecated" yaml:"deprecated"`
	CreatedAt             time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt             time.Time  `json:"updated_at" yaml:"-"`
}

// PriceForTerm returns the price charged for one billing period of the given term
func (p *Plan) PriceForTerm(term Term) int64 {
	if term == TermAnnual {
		return p.AnnualPriceCents
	}
	return p.MonthlyPriceCents
}

// Available reports whether new subscriptions or plan changes may target this plan
func (p *Plan) Available() bool {
	return p.IsActive && !p.Deprecated
}

// SamePricing reports whether two plans charge the same amounts
func (p *Plan) SamePricing(other *Plan) bool {
	return p.MonthlyPriceCents == other.MonthlyPriceCents &&
		p.AnnualPriceCents == other.AnnualPriceCents &&
		p.LoyaltyMultiplier == other.LoyaltyMultiplier &&
		p.MonthsOfferedOnAnnual == other.MonthsOfferedOnAnnual
}

// Validate checks the plan for structural errors
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPlan)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required for plan %s", ErrInvalidPlan, p.ID)
	}
	if p.MonthlyPriceCents < 0 || p.AnnualPriceCents < 0 {
		return fmt.Errorf("%w: negative price for plan %s", ErrInvalidPlan, p.ID)
	}
	if p.LoyaltyMultiplier < 0 {
		return fmt.Errorf("%w: negative loyalty multiplier for plan %s", ErrInvalidPlan, p.ID)
	}
	switch p.Visibility {
	case "", VisibilityPublic, VisibilityHidden:
	default:
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidPlan, p.Visibility)
	}
	return nil
}

// Clone returns a copy of the plan
func (p *Plan) Clone() *Plan {
	c := *p
	return &c
}
