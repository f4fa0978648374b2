package condition

import (
	"context"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

type ManualChecker struct{}

func NewManualChecker() *ManualChecker {
	return &ManualChecker{}
}

func (c *ManualChecker) Type() string {
	return entity.ConditionTypeManual
}

func (c *ManualChecker) Check(_ context.Context, link *entity.PaymentLink, _ time.Time) (Result, error) {
	if link.ConditionApprovedAt == nil {
		return Result{
			Detail:   "manual approval has not been given",
			Guidance: "approve the condition for this link before releasing",
		}, nil
	}

	detail := fmt.Sprintf("approved at %s", link.ConditionApprovedAt.UTC().Format(time.RFC3339))
	if link.ConditionApprovedBy != nil && *link.ConditionApprovedBy != "" {
		detail += " by " + *link.ConditionApprovedBy
	}
	return Result{Met: true, Detail: detail}, nil
}
