package fraud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
	"github.com/Bop4yH/wallet/pkg/models"
)

// RiskLevel classifies the total score of an analysis
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Thresholds configures scoring and the built-in rules
type Thresholds struct {
	Medium         int
	High           int
	VelocityWindow time.Duration
	VelocityLimit  int
	HighAmount     int64
	MidAmount      int64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Medium:         30,
		High:           70,
		VelocityWindow: 10 * time.Minute,
		VelocityLimit:  5,
		HighAmount:     100000,
		MidAmount:      10000,
	}
}

// Level maps a total score to a risk level.
func (t Thresholds) Level(score int) RiskLevel {
	switch {
	case score >= t.High:
		return RiskHigh
	case score >= t.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AnalysisResult is the outcome of scoring one transfer
type AnalysisResult struct {
	RiskLevel        RiskLevel
	Score            int
	Reasons          []string
	SuspiciousAmount decimal.Decimal
	Message          string
	TransferID       uuid.UUID
	TransferStatus   models.TransferStatus
}

// Alert converts the result into the message sent to the call center.
func (r *AnalysisResult) Alert() messaging.FraudAlertMessage {
	return messaging.FraudAlertMessage{
		BaseMessage:      messaging.NewBaseMessage(messaging.MsgFraudAlert, "fraud-monitor", r.TransferID.String()),
		TransferID:       r.TransferID,
		RiskLevel:        string(r.RiskLevel),
		Reasons:          r.Reasons,
		SuspiciousAmount: r.SuspiciousAmount,
		Message:          r.Message,
		TransferStatus:   string(r.TransferStatus),
	}
}

// AccountFinder loads an account without locking it.
type AccountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Analyzer runs the ordered rule set against a completed transfer
type Analyzer struct {
	accounts   AccountFinder
	rules      []Rule
	thresholds Thresholds
	now        func() time.Time
	logger     *zap.Logger
}

func NewAnalyzer(accounts AccountFinder, rules []Rule, thresholds Thresholds, now func() time.Time, logger *zap.Logger) *Analyzer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Analyzer{
		accounts:   accounts,
		rules:      rules,
		thresholds: thresholds,
		now:        now,
		logger:     logger.Named("fraud"),
	}
}

// DefaultRules returns the account-age, amount and velocity rules in that order.
func DefaultRules(counter TransferCounter, t Thresholds) []Rule {
	return []Rule{
		AccountAgeRule(),
		AmountRule(t.HighAmount, t.MidAmount),
		VelocityRule(counter, t.VelocityWindow, t.VelocityLimit),
	}
}

// Analyze scores event. The sender must exist; a missing sender is an internal error.
func (a *Analyzer) Analyze(ctx context.Context, event messaging.TransferCompletedEvent) (*AnalysisResult, error) {
	sender, err := a.accounts.FindByID(ctx, event.FromAccountID)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.Internal.Explain("sender account %s not found", event.FromAccountID).Wrap(err)
		}
		return nil, fmt.Errorf("load sender: %w", err)
	}

	now := a.now()
	total := 0
	reasons := make([]string, 0, len(a.rules))
	for _, rule := range a.rules {
		res, err := rule.Evaluate(ctx, event, sender, now)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		total += res.Score
		reasons = append(reasons, res.Reason+" (+"+strconv.Itoa(res.Score)+")")
	}

	level := a.thresholds.Level(total)
	metrics.FraudAnalysesTotal.WithLabelValues(string(level)).Inc()

	a.logger.Debug("transfer analyzed",
		zap.String("transfer_id", event.TransferID.String()),
		zap.Int("score", total),
		zap.String("risk_level", string(level)))

	return &AnalysisResult{
		RiskLevel:        level,
		Score:            total,
		Reasons:          reasons,
		SuspiciousAmount: event.Amount,
		TransferID:       event.TransferID,
	}, nil
}
