package mapper

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
)

func LinkToProto(item *entity.PaymentLink) *types.Link {
	if item == nil {
		return nil
	}

	return &types.Link{
		Id:                  item.ID,
		Kind:                string(item.Kind),
		Owner:               item.Owner,
		Title:               derefString(item.Title),
		SettleAddress:       item.SettleAddress,
		CustodyAddress:      item.CustodyAddress,
		RefundAddress:       derefString(item.RefundAddress),
		DepositCoin:         item.DepositCoin,
		DepositNetwork:      item.DepositNetwork,
		ExpectedAmount:      nullDecimalString(item.ExpectedAmount),
		OrderRef:            item.OrderRef,
		DepositAddress:      item.DepositAddress,
		DepositMin:          nullDecimalString(item.DepositMin),
		DepositMax:          nullDecimalString(item.DepositMax),
		Status:              string(item.Status),
		ReceivedAmount:      nullDecimalString(item.ReceivedAmount),
		SettledAmount:       nullDecimalString(item.SettledAmount),
		EscrowCondition:     conditionToProto(item.EscrowCondition),
		SplitTable:          splitTableToProto(item.SplitTable),
		ConditionApprovedAt: formatTime(item.ConditionApprovedAt),
		ConditionMetAt:      formatTime(item.ConditionMetAt),
		BlockingReason:      string(item.BlockingReason),
		BlockingDetail:      derefString(item.BlockingDetail),
		ReleaseAttempts:     item.ReleaseAttempts,
		CreatedAt:           item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func LinksToProto(items []*entity.PaymentLink) []*types.Link {
	result := make([]*types.Link, 0, len(items))
	for _, item := range items {
		result = append(result, LinkToProto(item))
	}
	return result
}

func TransactionToProto(item *entity.Transaction) *types.Transaction {
	if item == nil {
		return nil
	}

	return &types.Transaction{
		Id:          item.ID,
		LinkId:      item.LinkID,
		Kind:        string(item.Kind),
		Leg:         item.Leg,
		Amount:      item.Amount.String(),
		Recipient:   item.Recipient,
		Status:      string(item.Status),
		ExternalRef: derefString(item.ExternalRef),
		Error:       derefString(item.Error),
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func TransactionsToProto(items []*entity.Transaction) []*types.Transaction {
	result := make([]*types.Transaction, 0, len(items))
	for _, item := range items {
		result = append(result, TransactionToProto(item))
	}
	return result
}

// SubscriptionToProto maps a subscription for responses. The signing secret is
// only included when withSecret is set, which happens once at creation.
func SubscriptionToProto(item *entity.WebhookSubscription, withSecret bool) *types.WebhookSubscription {
	if item == nil {
		return nil
	}

	result := &types.WebhookSubscription{
		Id:        item.ID,
		Owner:     item.Owner,
		Url:       item.URL,
		Events:    append([]string{}, item.Events...),
		Active:    item.Active,
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if withSecret {
		result.Secret = item.Secret
	}
	return result
}

func SubscriptionsToProto(items []*entity.WebhookSubscription) []*types.WebhookSubscription {
	result := make([]*types.WebhookSubscription, 0, len(items))
	for _, item := range items {
		result = append(result, SubscriptionToProto(item, false))
	}
	return result
}

func PairToProto(item *provider.Pair) *types.PairResponse {
	if item == nil {
		return nil
	}

	return &types.PairResponse{
		DepositCoin:    item.Deposit.Coin,
		DepositNetwork: item.Deposit.Network,
		SettleCoin:     item.Settle.Coin,
		SettleNetwork:  item.Settle.Network,
		Min:            item.Min.String(),
		Max:            item.Max.String(),
		Rate:           item.Rate.String(),
	}
}

func AccountToProto(item *wallet.Account) *types.AccountResponse {
	if item == nil {
		return nil
	}

	return &types.AccountResponse{
		Address:    item.Address,
		IsDeployed: item.IsDeployed,
		Balance:    item.Balance.String(),
	}
}

func conditionToProto(item *entity.EscrowCondition) *types.EscrowCondition {
	if item == nil {
		return nil
	}

	return &types.EscrowCondition{
		Type:           item.Type,
		TrackingNumber: item.TrackingNumber,
		ReleaseDate:    formatTime(item.ReleaseDate),
		Description:    item.Description,
	}
}

func splitTableToProto(items []entity.SplitRecipient) []*types.SplitRecipient {
	if len(items) == 0 {
		return nil
	}

	result := make([]*types.SplitRecipient, 0, len(items))
	for _, item := range items {
		result = append(result, &types.SplitRecipient{
			Address:    item.Address,
			Percentage: json.Number(item.Percentage.String()),
			Label:      item.Label,
		})
	}
	return result
}

func nullDecimalString(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
