package condition

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

var (
	ErrConditionTypeUnsupported = errors.New("escrow condition type is not supported")
	ErrConditionMissing         = errors.New("escrow condition is missing")
)

// Result is the outcome of one condition evaluation. Guidance tells the
// caller what has to happen before the condition can be met.
type Result struct {
	Met      bool
	Detail   string
	Guidance string
}

type Checker interface {
	Type() string
	Check(ctx context.Context, link *entity.PaymentLink, now time.Time) (Result, error)
}

type Registry struct {
	checkers map[string]Checker
}

func NewRegistry(checkers ...Checker) *Registry {
	items := make(map[string]Checker, len(checkers))
	for _, c := range checkers {
		items[c.Type()] = c
	}
	return &Registry{checkers: items}
}

func (r *Registry) Get(conditionType string) (Checker, error) {
	checker, ok := r.checkers[conditionType]
	if !ok {
		return nil, ErrConditionTypeUnsupported
	}
	return checker, nil
}

func (r *Registry) Supports(conditionType string) bool {
	_, ok := r.checkers[conditionType]
	return ok
}

// Evaluate runs the checker registered for the link's escrow condition.
func (r *Registry) Evaluate(ctx context.Context, link *entity.PaymentLink, now time.Time) (Result, error) {
	if link == nil || link.EscrowCondition == nil {
		return Result{}, ErrConditionMissing
	}
	checker, err := r.Get(link.EscrowCondition.Type)
	if err != nil {
		return Result{}, err
	}
	return checker.Check(ctx, link, now)
}
