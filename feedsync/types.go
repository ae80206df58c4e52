package feedsync

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

type CursorState struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

func DecodeCursorState(raw []byte) CursorState {
	if len(raw) == 0 {
		return CursorState{}
	}
	var state CursorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	b, _ := json.Marshal(state)
	return b
}

type feedTransaction struct {
	ID           string      `json:"id"`
	Amount       json.Number `json:"amount"`
	Direction    string      `json:"direction"`
	Date         string      `json:"date"`
	Description  string      `json:"description"`
	MerchantName string      `json:"merchant_name"`
	Pending      bool        `json:"pending"`
	Category     string      `json:"category"`
}

type feedAccount struct {
	ID             string      `json:"id"`
	CurrentBalance json.Number `json:"current_balance"`
}

// normalizeAmount converts a feed amount to the internal sign convention
// where positive means money in. The provider reports outflows as positive
// debits, so debits are negated here and only here.
func normalizeAmount(amount decimal.Decimal, direction string) decimal.Decimal {
	if strings.EqualFold(strings.TrimSpace(direction), "credit") {
		return amount.Abs()
	}
	return amount.Abs().Neg()
}
