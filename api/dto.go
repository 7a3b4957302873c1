package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bop4yH/wallet/internal/accounts"
	"github.com/Bop4yH/wallet/pkg/models"
)

// Amounts leave the API as fixed two-digit decimal strings.

type createAccountRequest struct {
	OwnerName string `json:"owner_name" validate:"required,max=100"`
	Currency  string `json:"currency" validate:"required"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id" validate:"required,uuid"`
	ToAccountID   string          `json:"to_account_id" validate:"required,uuid"`
	Amount        decimal.Decimal `json:"amount"`
}

type transferByNamesRequest struct {
	FromName string          `json:"from_name" validate:"required,max=100"`
	ToName   string          `json:"to_name" validate:"required,max=100"`
	Currency string          `json:"currency" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type accountResponse struct {
	ID        uuid.UUID `json:"id"`
	OwnerName string    `json:"owner_name"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		OwnerName: a.OwnerName,
		Currency:  a.Currency,
		Balance:   a.Balance.StringFixed(models.MoneyScale),
		CreatedAt: a.CreatedAt,
	}
}

type transferResponse struct {
	ID             uuid.UUID `json:"id"`
	FromAccountID  uuid.UUID `json:"from_account_id"`
	ToAccountID    uuid.UUID `json:"to_account_id"`
	Amount         string    `json:"amount"`
	Fee            string    `json:"fee"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toTransferResponse(t *models.Transfer) transferResponse {
	resp := transferResponse{
		ID:            t.ID,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount.StringFixed(models.MoneyScale),
		Fee:           t.Fee.StringFixed(models.MoneyScale),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
	}
	if t.IdempotencyKey != nil {
		resp.IdempotencyKey = *t.IdempotencyKey
	}
	return resp
}

type statisticsResponse struct {
	CurrentBalance string `json:"current_balance"`
	IncomingCount  int64  `json:"incoming_count"`
	OutgoingCount  int64  `json:"outgoing_count"`
	TotalReceived  string `json:"total_received"`
	TotalSent      string `json:"total_sent"`
}

func toStatisticsResponse(s *accounts.Statistics) statisticsResponse {
	return statisticsResponse{
		CurrentBalance: s.CurrentBalance.StringFixed(models.MoneyScale),
		IncomingCount:  s.IncomingCount,
		OutgoingCount:  s.OutgoingCount,
		TotalReceived:  s.TotalReceived.StringFixed(models.MoneyScale),
		TotalSent:      s.TotalSent.StringFixed(models.MoneyScale),
	}
}
