package types

import "encoding/json"

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type EscrowCondition struct {
	Type           string `json:"type"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	ReleaseDate    string `json:"release_date,omitempty"`
	Description    string `json:"description,omitempty"`
}

func (c *EscrowCondition) GetType() string {
	if c == nil {
		return ""
	}
	return c.Type
}

func (c *EscrowCondition) GetTrackingNumber() string {
	if c == nil {
		return ""
	}
	return c.TrackingNumber
}

func (c *EscrowCondition) GetReleaseDate() string {
	if c == nil {
		return ""
	}
	return c.ReleaseDate
}

func (c *EscrowCondition) GetDescription() string {
	if c == nil {
		return ""
	}
	return c.Description
}

type SplitRecipient struct {
	Address    string      `json:"address"`
	Percentage json.Number `json:"percentage"`
	Label      string      `json:"label,omitempty"`
}

func (r *SplitRecipient) GetAddress() string {
	if r == nil {
		return ""
	}
	return r.Address
}

func (r *SplitRecipient) GetPercentage() string {
	if r == nil {
		return ""
	}
	return string(r.Percentage)
}

func (r *SplitRecipient) GetLabel() string {
	if r == nil {
		return ""
	}
	return r.Label
}

type CreateLinkRequest struct {
	Kind            string            `json:"kind"`
	Owner           string            `json:"owner"`
	Title           string            `json:"title,omitempty"`
	SettleAddress   string            `json:"settle_address,omitempty"`
	RefundAddress   string            `json:"refund_address,omitempty"`
	NotifyEmail     string            `json:"notify_email,omitempty"`
	DepositCoin     string            `json:"deposit_coin"`
	DepositNetwork  string            `json:"deposit_network"`
	ExpectedAmount  json.Number       `json:"expected_amount,omitempty"`
	EscrowCondition *EscrowCondition  `json:"escrow_condition,omitempty"`
	SplitTable      []*SplitRecipient `json:"split_table,omitempty"`
}

func (r *CreateLinkRequest) GetKind() string           { return r.Kind }
func (r *CreateLinkRequest) GetOwner() string          { return r.Owner }
func (r *CreateLinkRequest) GetTitle() string          { return r.Title }
func (r *CreateLinkRequest) GetSettleAddress() string  { return r.SettleAddress }
func (r *CreateLinkRequest) GetRefundAddress() string  { return r.RefundAddress }
func (r *CreateLinkRequest) GetNotifyEmail() string    { return r.NotifyEmail }
func (r *CreateLinkRequest) GetDepositCoin() string    { return r.DepositCoin }
func (r *CreateLinkRequest) GetDepositNetwork() string { return r.DepositNetwork }
func (r *CreateLinkRequest) GetExpectedAmount() string { return string(r.ExpectedAmount) }

func (r *CreateLinkRequest) GetEscrowCondition() *EscrowCondition {
	return r.EscrowCondition
}

func (r *CreateLinkRequest) GetSplitTable() []*SplitRecipient {
	return r.SplitTable
}

type GetLinkRequest struct {
	Id string `json:"id"`
}

func (r *GetLinkRequest) GetId() string { return r.Id }

type ListLinksRequest struct {
	Owner          string `json:"owner,omitempty"`
	Status         string `json:"status,omitempty"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	Limit          int32  `json:"limit,omitempty"`
	Offset         int32  `json:"offset,omitempty"`
}

func (r *ListLinksRequest) GetOwner() string          { return r.Owner }
func (r *ListLinksRequest) GetStatus() string         { return r.Status }
func (r *ListLinksRequest) GetBlockingReason() string { return r.BlockingReason }
func (r *ListLinksRequest) GetLimit() int32           { return r.Limit }
func (r *ListLinksRequest) GetOffset() int32          { return r.Offset }

type ReconcileLinkRequest struct {
	Id string `json:"id"`
}

func (r *ReconcileLinkRequest) GetId() string { return r.Id }

type ReleaseEscrowRequest struct {
	Id     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (r *ReleaseEscrowRequest) GetId() string     { return r.Id }
func (r *ReleaseEscrowRequest) GetReason() string { return r.Reason }

type ApproveConditionRequest struct {
	Id         string `json:"id"`
	ApprovedBy string `json:"approved_by"`
}

func (r *ApproveConditionRequest) GetId() string         { return r.Id }
func (r *ApproveConditionRequest) GetApprovedBy() string { return r.ApprovedBy }

type ResolveTransactionRequest struct {
	Id            string `json:"id"`
	TransactionId string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
	ExternalRef   string `json:"external_ref,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (r *ResolveTransactionRequest) GetId() string            { return r.Id }
func (r *ResolveTransactionRequest) GetTransactionId() string { return r.TransactionId }
func (r *ResolveTransactionRequest) GetOutcome() string       { return r.Outcome }
func (r *ResolveTransactionRequest) GetExternalRef() string   { return r.ExternalRef }
func (r *ResolveTransactionRequest) GetReason() string        { return r.Reason }

type Link struct {
	Id                  string            `json:"id"`
	Kind                string            `json:"kind"`
	Owner               string            `json:"owner"`
	Title               string            `json:"title,omitempty"`
	SettleAddress       string            `json:"settle_address"`
	CustodyAddress      string            `json:"custody_address"`
	RefundAddress       string            `json:"refund_address,omitempty"`
	DepositCoin         string            `json:"deposit_coin"`
	DepositNetwork      string            `json:"deposit_network"`
	ExpectedAmount      string            `json:"expected_amount,omitempty"`
	OrderRef            string            `json:"order_ref"`
	DepositAddress      string            `json:"deposit_address"`
	DepositMin          string            `json:"deposit_min,omitempty"`
	DepositMax          string            `json:"deposit_max,omitempty"`
	Status              string            `json:"status"`
	ReceivedAmount      string            `json:"received_amount,omitempty"`
	SettledAmount       string            `json:"settled_amount,omitempty"`
	EscrowCondition     *EscrowCondition  `json:"escrow_condition,omitempty"`
	SplitTable          []*SplitRecipient `json:"split_table,omitempty"`
	ConditionApprovedAt string            `json:"condition_approved_at,omitempty"`
	ConditionMetAt      string            `json:"condition_met_at,omitempty"`
	BlockingReason      string            `json:"blocking_reason,omitempty"`
	BlockingDetail      string            `json:"blocking_detail,omitempty"`
	ReleaseAttempts     int32             `json:"release_attempts"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

type LinkEnvelopeResponse struct {
	Link *Link `json:"link"`
}

type ListLinksResponse struct {
	Links []*Link `json:"links"`
}

type Transaction struct {
	Id          string `json:"id"`
	LinkId      string `json:"link_id"`
	Kind        string `json:"kind"`
	Leg         int32  `json:"leg"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
	Status      string `json:"status"`
	ExternalRef string `json:"external_ref,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

type ReleaseEscrowResponse struct {
	Link        *Link        `json:"link"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type ResolveTransactionResponse struct {
	Link        *Link        `json:"link"`
	Transaction *Transaction `json:"transaction"`
}

type GetPairRequest struct {
	Coin    string `json:"coin"`
	Network string `json:"network"`
}

func (r *GetPairRequest) GetCoin() string    { return r.Coin }
func (r *GetPairRequest) GetNetwork() string { return r.Network }

type PairResponse struct {
	DepositCoin    string `json:"deposit_coin"`
	DepositNetwork string `json:"deposit_network"`
	SettleCoin     string `json:"settle_coin"`
	SettleNetwork  string `json:"settle_network"`
	Min            string `json:"min"`
	Max            string `json:"max"`
	Rate           string `json:"rate"`
}

type CreateAccountRequest struct {
	Owner string `json:"owner"`
}

func (r *CreateAccountRequest) GetOwner() string { return r.Owner }

type GetBalanceRequest struct {
	Address string `json:"address"`
}

func (r *GetBalanceRequest) GetAddress() string { return r.Address }

type AccountResponse struct {
	Address    string `json:"address"`
	IsDeployed bool   `json:"is_deployed"`
	Balance    string `json:"balance"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type CreateWebhookSubscriptionRequest struct {
	Owner  string   `json:"owner"`
	Url    string   `json:"url"`
	Events []string `json:"events"`
}

func (r *CreateWebhookSubscriptionRequest) GetOwner() string    { return r.Owner }
func (r *CreateWebhookSubscriptionRequest) GetUrl() string      { return r.Url }
func (r *CreateWebhookSubscriptionRequest) GetEvents() []string { return r.Events }

type ListWebhookSubscriptionsRequest struct {
	Owner string `json:"owner"`
}

func (r *ListWebhookSubscriptionsRequest) GetOwner() string { return r.Owner }

type UpdateWebhookSubscriptionRequest struct {
	Id     string   `json:"id"`
	Owner  string   `json:"owner"`
	Url    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

func (r *UpdateWebhookSubscriptionRequest) GetId() string       { return r.Id }
func (r *UpdateWebhookSubscriptionRequest) GetOwner() string    { return r.Owner }
func (r *UpdateWebhookSubscriptionRequest) GetUrl() *string     { return r.Url }
func (r *UpdateWebhookSubscriptionRequest) GetEvents() []string { return r.Events }
func (r *UpdateWebhookSubscriptionRequest) GetActive() *bool    { return r.Active }

type DeleteWebhookSubscriptionRequest struct {
	Id    string `json:"id"`
	Owner string `json:"owner"`
}

func (r *DeleteWebhookSubscriptionRequest) GetId() string    { return r.Id }
func (r *DeleteWebhookSubscriptionRequest) GetOwner() string { return r.Owner }

type WebhookSubscription struct {
	Id        string   `json:"id"`
	Owner     string   `json:"owner"`
	Url       string   `json:"url"`
	Events    []string `json:"events"`
	Active    bool     `json:"active"`
	Secret    string   `json:"secret,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type WebhookSubscriptionEnvelopeResponse struct {
	Subscription *WebhookSubscription `json:"subscription"`
	Message      string               `json:"message,omitempty"`
}

type ListWebhookSubscriptionsResponse struct {
	Subscriptions []*WebhookSubscription `json:"subscriptions"`
}

type HandleSwapWebhookRequest struct {
	RequestId string `json:"request_id,omitempty"`
	Provider  string `json:"provider"`
	Signature string `json:"signature,omitempty"`
	Payload   string `json:"payload"`
}

func (r *HandleSwapWebhookRequest) GetRequestId() string { return r.RequestId }
func (r *HandleSwapWebhookRequest) GetProvider() string  { return r.Provider }
func (r *HandleSwapWebhookRequest) GetSignature() string { return r.Signature }
func (r *HandleSwapWebhookRequest) GetPayload() string   { return r.Payload }

type SwapWebhookResponse struct {
	Received  bool   `json:"received"`
	LinkId    string `json:"linkId,omitempty"`
	NewStatus string `json:"newStatus,omitempty"`
	Status    string `json:"status,omitempty"`
}

type InvoiceItem struct {
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
}

func (i *InvoiceItem) GetDescription() string {
	if i == nil {
		return ""
	}
	return i.Description
}

func (i *InvoiceItem) GetQuantity() string {
	if i == nil {
		return ""
	}
	return string(i.Quantity)
}

func (i *InvoiceItem) GetUnitPrice() string {
	if i == nil {
		return ""
	}
	return string(i.UnitPrice)
}

type CreateInvoiceRequest struct {
	Owner       string         `json:"owner"`
	LinkId      string         `json:"link_id,omitempty"`
	ClientName  string         `json:"client_name,omitempty"`
	ClientEmail string         `json:"client_email,omitempty"`
	Items       []*InvoiceItem `json:"items"`
	Notes       string         `json:"notes,omitempty"`
	DueDate     string         `json:"due_date,omitempty"`
	Currency    string         `json:"currency,omitempty"`
}

func (r *CreateInvoiceRequest) GetOwner() string         { return r.Owner }
func (r *CreateInvoiceRequest) GetLinkId() string        { return r.LinkId }
func (r *CreateInvoiceRequest) GetClientName() string    { return r.ClientName }
func (r *CreateInvoiceRequest) GetClientEmail() string   { return r.ClientEmail }
func (r *CreateInvoiceRequest) GetItems() []*InvoiceItem { return r.Items }
func (r *CreateInvoiceRequest) GetNotes() string         { return r.Notes }
func (r *CreateInvoiceRequest) GetDueDate() string       { return r.DueDate }
func (r *CreateInvoiceRequest) GetCurrency() string      { return r.Currency }

type GetInvoiceRequest struct {
	Id     string `json:"id,omitempty"`
	Number string `json:"number,omitempty"`
}

func (r *GetInvoiceRequest) GetId() string     { return r.Id }
func (r *GetInvoiceRequest) GetNumber() string { return r.Number }

type ListInvoicesRequest struct {
	Owner string `json:"owner"`
}

func (r *ListInvoicesRequest) GetOwner() string { return r.Owner }

type UpdateInvoiceStatusRequest struct {
	Id     string `json:"id"`
	Owner  string `json:"owner"`
	Status string `json:"status"`
}

func (r *UpdateInvoiceStatusRequest) GetId() string     { return r.Id }
func (r *UpdateInvoiceStatusRequest) GetOwner() string  { return r.Owner }
func (r *UpdateInvoiceStatusRequest) GetStatus() string { return r.Status }

type Invoice struct {
	Id          string         `json:"id"`
	Number      string         `json:"invoice_number"`
	Owner       string         `json:"owner"`
	LinkId      string         `json:"link_id,omitempty"`
	ClientName  string         `json:"client_name"`
	ClientEmail string         `json:"client_email,omitempty"`
	Items       []*InvoiceItem `json:"items"`
	Subtotal    string         `json:"subtotal"`
	Tax         string         `json:"tax"`
	Total       string         `json:"total"`
	Currency    string         `json:"currency"`
	Notes       string         `json:"notes,omitempty"`
	DueDate     string         `json:"due_date,omitempty"`
	Status      string         `json:"status"`
	PaidAt      string         `json:"paid_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

type InvoiceEnvelopeResponse struct {
	Invoice *Invoice `json:"invoice"`
}

type ListInvoicesResponse struct {
	Invoices []*Invoice `json:"invoices"`
}
