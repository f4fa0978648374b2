package condition

import (
	"context"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

type TimeChecker struct{}

func NewTimeChecker() *TimeChecker {
	return &TimeChecker{}
}

func (c *TimeChecker) Type() string {
	return entity.ConditionTypeTime
}

func (c *TimeChecker) Check(_ context.Context, link *entity.PaymentLink, now time.Time) (Result, error) {
	releaseDate := link.EscrowCondition.ReleaseDate
	if releaseDate == nil {
		return Result{
			Detail:   "release date is not set",
			Guidance: "time-based escrow requires a release date",
		}, nil
	}

	if now.Before(*releaseDate) {
		return Result{
			Detail:   fmt.Sprintf("release date %s has not been reached", releaseDate.UTC().Format(time.RFC3339)),
			Guidance: fmt.Sprintf("funds unlock in %s", releaseDate.Sub(now).Round(time.Minute)),
		}, nil
	}

	return Result{Met: true, Detail: "release date reached"}, nil
}
