package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MoneyScale is the number of fraction digits every stored amount carries.
const MoneyScale = 2

// NormalizeAmount rounds to MoneyScale digits, half away from zero.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// OwnerKey is the case-insensitive form of an owner name used for uniqueness and lock ordering.
func OwnerKey(ownerName string) string {
	return strings.ToLower(strings.TrimSpace(ownerName))
}

// Account represents a single-currency wallet owned by a named client
type Account struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerName string          `json:"owner_name" gorm:"size:100;not null"`
	OwnerKey  string          `json:"-" gorm:"size:100;not null;uniqueIndex:uk_owner_currency,priority:1"`
	Currency  string          `json:"currency" gorm:"size:3;not null;uniqueIndex:uk_owner_currency,priority:2"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(19,2);not null"`
	Version   int64           `json:"-" gorm:"not null;default:0"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

// BeforeCreate normalizes a new account row.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Currency = NormalizeCurrency(a.Currency)
	a.OwnerKey = OwnerKey(a.OwnerName)
	a.Balance = NormalizeAmount(a.Balance)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TransferStatus is the lifecycle state of a transfer
type TransferStatus string

const (
	TransferStatusCompleted TransferStatus = "COMPLETED"
	TransferStatusCancelled TransferStatus = "CANCELLED"
)

// Transfer is a completed (or later cancelled) movement of money between two accounts
type Transfer struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"size:128;uniqueIndex"`
	FromAccountID  uuid.UUID       `json:"from_account_id" gorm:"type:uuid;not null;index:idx_transfer_from_created,priority:1"`
	ToAccountID    uuid.UUID       `json:"to_account_id" gorm:"type:uuid;not null;index:idx_transfer_to"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(19,2);not null"`
	Fee            decimal.Decimal `json:"fee" gorm:"type:decimal(19,2);not null"`
	Status         TransferStatus  `json:"status" gorm:"size:20;not null;index"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;index:idx_transfer_from_created,priority:2"`
}

// BeforeCreate fills defaults for a new transfer row.
func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TransferStatusCompleted
	}
	t.Amount = NormalizeAmount(t.Amount)
	t.Fee = NormalizeAmount(t.Fee)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}

// DeadLetterEvent is an event whose publication exhausted every retry
type DeadLetterEvent struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Topic     string    `json:"topic" gorm:"size:128;not null;index"`
	Key       string    `json:"key" gorm:"size:128"`
	Payload   string    `json:"payload" gorm:"type:text;not null"`
	LastError string    `json:"last_error" gorm:"type:text"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// AllModels lists every table the wallet migrates.
func AllModels() []interface{} {
	return []interface{}{&Account{}, &Transfer{}, &DeadLetterEvent{}}
}
