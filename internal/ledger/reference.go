package ledger

import (
	"fmt"
)

const (
	OpReserve   = "reserve"
	OpUnreserve = "unreserve"
)

// CampaignReference builds the idempotency key of a campaign-linked row:
// {operation}:{campaignId}:{fundType}. The store keeps it unique, so a
// retried reservation can never be written twice.
func CampaignReference(op string, campaignID int64, fundType string) string {
	return fmt.Sprintf("%s:%d:%s", op, campaignID, fundType)
}
