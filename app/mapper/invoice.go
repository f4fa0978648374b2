package mapper

import (
	"encoding/json"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

func InvoiceToProto(item *entity.Invoice) *types.Invoice {
	if item == nil {
		return nil
	}

	items := make([]*types.InvoiceItem, 0, len(item.Items))
	for _, entry := range item.Items {
		items = append(items, &types.InvoiceItem{
			Description: entry.Description,
			Quantity:    json.Number(entry.Quantity.String()),
			UnitPrice:   json.Number(entry.UnitPrice.String()),
		})
	}

	return &types.Invoice{
		Id:          item.ID,
		Number:      item.Number,
		Owner:       item.Owner,
		LinkId:      derefString(item.LinkID),
		ClientName:  item.ClientName,
		ClientEmail: derefString(item.ClientEmail),
		Items:       items,
		Subtotal:    item.Subtotal.String(),
		Tax:         item.Tax.String(),
		Total:       item.Total.String(),
		Currency:    item.Currency,
		Notes:       derefString(item.Notes),
		DueDate:     formatTime(item.DueDate),
		Status:      string(item.Status),
		PaidAt:      formatTime(item.PaidAt),
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func InvoicesToProto(items []*entity.Invoice) []*types.Invoice {
	result := make([]*types.Invoice, 0, len(items))
	for _, item := range items {
		result = append(result, InvoiceToProto(item))
	}
	return result
}
