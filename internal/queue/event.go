// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// TicketMintedEvent is published after a seat has been minted.  Amounts are
// decimal strings in base units so consumers need no big-number support.
type TicketMintedEvent struct {
	TokenID      uint64 `json:"token_id"`
	OccasionID   uint64 `json:"occasion_id"`
	OccasionName string `json:"occasion_name"`
	Seat         uint64 `json:"seat"`
	Buyer        string `json:"buyer"`
	Paid         string `json:"paid"`
	MintedAt     string `json:"minted_at"`
}

// PayoutEvent instructs the payment rail to credit the owner.  It is the
// transfer step of a withdrawal.  ID is the withdrawal ID and may be seen
// more than once.
type PayoutEvent struct {
	ID          string `json:"id"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	RequestedAt string `json:"requested_at"`
}
