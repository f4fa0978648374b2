package types

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

func NewCreateLinkRequestFromContext(ctx echo.Context) (*CreateLinkRequest, error) {
	var body CreateLinkRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Normalize()
	return &body, nil
}

// Normalize trims inputs and lowercases addresses and identifiers.
func (r *CreateLinkRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.Owner = strings.ToLower(strings.TrimSpace(r.Owner))
	r.Title = strings.TrimSpace(r.Title)
	r.SettleAddress = strings.ToLower(strings.TrimSpace(r.SettleAddress))
	r.RefundAddress = strings.TrimSpace(r.RefundAddress)
	r.NotifyEmail = strings.TrimSpace(r.NotifyEmail)
	r.DepositCoin = strings.ToUpper(strings.TrimSpace(r.DepositCoin))
	r.DepositNetwork = strings.ToLower(strings.TrimSpace(r.DepositNetwork))
	if r.EscrowCondition != nil {
		r.EscrowCondition.Type = strings.ToLower(strings.TrimSpace(r.EscrowCondition.Type))
		r.EscrowCondition.TrackingNumber = strings.TrimSpace(r.EscrowCondition.TrackingNumber)
		r.EscrowCondition.ReleaseDate = strings.TrimSpace(r.EscrowCondition.ReleaseDate)
		r.EscrowCondition.Description = strings.TrimSpace(r.EscrowCondition.Description)
	}
	for _, recipient := range r.SplitTable {
		if recipient == nil {
			continue
		}
		recipient.Address = strings.ToLower(strings.TrimSpace(recipient.Address))
		recipient.Label = strings.TrimSpace(recipient.Label)
	}
}

func (r *CreateLinkRequest) Validate() error {
	kind := entity.LinkKind(r.GetKind())
	if !kind.Valid() {
		return errors.New("kind must be direct, escrow, or split")
	}
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	if r.GetDepositCoin() == "" || r.GetDepositNetwork() == "" {
		return errors.New("deposit_coin and deposit_network are required")
	}

	switch kind {
	case entity.LinkKindSplit:
		if len(r.GetSplitTable()) == 0 {
			return errors.New("split_table is required for split links")
		}
		for _, recipient := range r.GetSplitTable() {
			if recipient.GetAddress() == "" {
				return errors.New("split_table address is required")
			}
			if recipient.GetPercentage() == "" {
				return errors.New("split_table percentage is required")
			}
		}
	case entity.LinkKindEscrow:
		if r.GetSettleAddress() == "" {
			return errors.New("settle_address is required")
		}
		if r.GetEscrowCondition().GetType() == "" {
			return errors.New("escrow_condition is required for escrow links")
		}
		if date := r.GetEscrowCondition().GetReleaseDate(); date != "" {
			if _, err := time.Parse(time.RFC3339, date); err != nil {
				return errors.New("escrow_condition.release_date must be RFC3339")
			}
		}
	default:
		if r.GetSettleAddress() == "" {
			return errors.New("settle_address is required")
		}
	}

	return nil
}

func NewGetLinkRequestFromContext(ctx echo.Context) (*GetLinkRequest, error) {
	return &GetLinkRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetLinkRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid link id")
	}
	return nil
}

func NewListLinksRequestFromContext(ctx echo.Context) (*ListLinksRequest, error) {
	req := &ListLinksRequest{
		Owner:          strings.ToLower(strings.TrimSpace(ctx.QueryParam("owner"))),
		Status:         strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		BlockingReason: strings.ToLower(strings.TrimSpace(ctx.QueryParam("blocking_reason"))),
		Limit:          100,
		Offset:         0,
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListLinksRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.GetLimit() <= 0 || r.GetLimit() > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.GetOffset() < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.GetStatus() != "" && !entity.LinkStatus(r.GetStatus()).Valid() {
		return errors.New("invalid status")
	}
	if r.GetBlockingReason() != "" && !isValidBlockingReason(r.GetBlockingReason()) {
		return errors.New("invalid blocking_reason")
	}
	return nil
}

func NewReconcileLinkRequestFromContext(ctx echo.Context) (*ReconcileLinkRequest, error) {
	return &ReconcileLinkRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *ReconcileLinkRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid link id")
	}
	return nil
}

func NewReleaseEscrowRequestFromContext(ctx echo.Context) (*ReleaseEscrowRequest, error) {
	var body ReleaseEscrowRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *ReleaseEscrowRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid link id")
	}
	return nil
}

func NewApproveConditionRequestFromContext(ctx echo.Context) (*ApproveConditionRequest, error) {
	var body ApproveConditionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.ApprovedBy = strings.ToLower(strings.TrimSpace(body.ApprovedBy))
	return &body, nil
}

func (r *ApproveConditionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid link id")
	}
	if r.GetApprovedBy() == "" {
		return errors.New("approved_by is required")
	}
	return nil
}

func NewResolveTransactionRequestFromContext(ctx echo.Context) (*ResolveTransactionRequest, error) {
	var body ResolveTransactionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.TransactionId = strings.TrimSpace(ctx.Param("txId"))
	body.Normalize()
	return &body, nil
}

func (r *ResolveTransactionRequest) Normalize() {
	r.Id = strings.TrimSpace(r.Id)
	r.TransactionId = strings.TrimSpace(r.TransactionId)
	r.Outcome = strings.ToLower(strings.TrimSpace(r.Outcome))
	r.ExternalRef = strings.TrimSpace(r.ExternalRef)
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *ResolveTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid link id")
	}
	if r.GetTransactionId() == "" {
		return errors.New("invalid transaction id")
	}
	switch entity.TransactionStatus(r.GetOutcome()) {
	case entity.TransactionStatusCompleted:
		if r.GetExternalRef() == "" {
			return errors.New("external_ref is required when outcome is completed")
		}
	case entity.TransactionStatusFailed:
	default:
		return errors.New("outcome must be completed or failed")
	}
	return nil
}

func NewGetPairRequestFromContext(ctx echo.Context) (*GetPairRequest, error) {
	return &GetPairRequest{
		Coin:    strings.ToUpper(strings.TrimSpace(ctx.Param("coin"))),
		Network: strings.ToLower(strings.TrimSpace(ctx.Param("network"))),
	}, nil
}

func (r *GetPairRequest) Validate() error {
	if r.GetCoin() == "" || r.GetNetwork() == "" {
		return errors.New("coin and network are required")
	}
	return nil
}

func NewCreateAccountRequestFromContext(ctx echo.Context) (*CreateAccountRequest, error) {
	var body CreateAccountRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Owner = strings.ToLower(strings.TrimSpace(body.Owner))
	return &body, nil
}

func (r *CreateAccountRequest) Validate() error {
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	return nil
}

func NewGetBalanceRequestFromContext(ctx echo.Context) (*GetBalanceRequest, error) {
	return &GetBalanceRequest{Address: strings.ToLower(strings.TrimSpace(ctx.Param("address")))}, nil
}

func (r *GetBalanceRequest) Validate() error {
	if r.GetAddress() == "" {
		return errors.New("address is required")
	}
	return nil
}

func isValidBlockingReason(reason string) bool {
	switch entity.BlockingReason(reason) {
	case entity.BlockingAwaitingDeposit,
		entity.BlockingConditionNotMet,
		entity.BlockingTransferFailed,
		entity.BlockingManualReview,
		entity.BlockingAwaitingSettling:
		return true
	default:
		return false
	}
}
