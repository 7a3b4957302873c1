// Package fraud scores completed transfers and reacts to risky ones after the fact.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/pkg/models"
)

// RuleResult is the signal raised by a single rule
type RuleResult struct {
	Score  int
	Reason string
}

// Rule inspects a completed transfer. A nil result means the rule did not fire.
type Rule interface {
	Evaluate(ctx context.Context, event messaging.TransferCompletedEvent, sender *models.Account, now time.Time) (*RuleResult, error)
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(ctx context.Context, event messaging.TransferCompletedEvent, sender *models.Account, now time.Time) (*RuleResult, error)

func (f RuleFunc) Evaluate(ctx context.Context, event messaging.TransferCompletedEvent, sender *models.Account, now time.Time) (*RuleResult, error) {
	return f(ctx, event, sender, now)
}

// AccountAgeRule flags senders whose account is younger than a day.
func AccountAgeRule() Rule {
	return RuleFunc(func(_ context.Context, _ messaging.TransferCompletedEvent, sender *models.Account, now time.Time) (*RuleResult, error) {
		age := now.Sub(sender.CreatedAt)
		switch {
		case age < 10*time.Minute:
			return &RuleResult{Score: 60, Reason: "Critical: Account created < 10 mins ago"}, nil
		case age < 24*time.Hour:
			return &RuleResult{Score: 20, Reason: "Warning: Account created < 24 hours ago"}, nil
		}
		return nil, nil
	})
}

// AmountRule flags large transfers. Only the higher threshold that is exceeded scores.
func AmountRule(highThreshold, midThreshold int64) Rule {
	high := decimal.NewFromInt(highThreshold)
	mid := decimal.NewFromInt(midThreshold)
	return RuleFunc(func(_ context.Context, event messaging.TransferCompletedEvent, _ *models.Account, _ time.Time) (*RuleResult, error) {
		switch {
		case event.Amount.GreaterThan(high):
			return &RuleResult{Score: 30, Reason: fmt.Sprintf("Amount > %d", highThreshold)}, nil
		case event.Amount.GreaterThan(mid):
			return &RuleResult{Score: 10, Reason: fmt.Sprintf("Amount > %d", midThreshold)}, nil
		}
		return nil, nil
	})
}

// TransferCounter counts transfers sent by an account since a point in time.
type TransferCounter interface {
	CountRecentOutgoing(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error)
}

// VelocityRule flags senders with more than limit transfers in the trailing window.
func VelocityRule(counter TransferCounter, window time.Duration, limit int) Rule {
	return RuleFunc(func(ctx context.Context, event messaging.TransferCompletedEvent, _ *models.Account, now time.Time) (*RuleResult, error) {
		n, err := counter.CountRecentOutgoing(ctx, event.FromAccountID, now.Add(-window))
		if err != nil {
			return nil, fmt.Errorf("velocity rule: %w", err)
		}
		if n > int64(limit) {
			return &RuleResult{
				Score:  40,
				Reason: fmt.Sprintf("Velocity: %d transfers in last %d mins", n, int(window.Minutes())),
			}, nil
		}
		return nil, nil
	})
}
