package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bop4yH/wallet/api/responses"
	"github.com/Bop4yH/wallet/internal/locking"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
)

// IdempotencyKeyHeader carries the client's retry key for POST /transfers
const IdempotencyKeyHeader = "Idempotency-Key"

type balanceOp func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error)

func (s *Server) createTransfer(c *gin.Context) {
	var req transferRequest
	if !s.bind(c, &req) {
		return
	}
	fromID, err := parseAccountID("from_account_id", req.FromAccountID)
	if err != nil {
		responses.Error(c, err)
		return
	}
	toID, err := parseAccountID("to_account_id", req.ToAccountID)
	if err != nil {
		responses.Error(c, err)
		return
	}

	t, err := s.transfers.Transfer(c.Request.Context(), locking.ByID(fromID), locking.ByID(toID), req.Amount, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toTransferResponse(t))
}

func (s *Server) transferByNames(c *gin.Context) {
	var req transferByNamesRequest
	if !s.bind(c, &req) {
		return
	}
	t, err := s.transfers.TransferByNames(c.Request.Context(),
		s.clean(req.FromName), s.clean(req.ToName), req.Currency, req.Amount, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toTransferResponse(t))
}

func (s *Server) getTransfer(c *gin.Context) {
	id, ok := s.pathID(c, "transfer")
	if !ok {
		return
	}
	t, err := s.transfers.Get(c.Request.Context(), id)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toTransferResponse(t))
}

func (s *Server) cancelTransfer(c *gin.Context) {
	id, ok := s.pathID(c, "transfer")
	if !ok {
		return
	}
	t, err := s.transfers.Cancel(c.Request.Context(), id)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toTransferResponse(t))
}

func (s *Server) countTransfers(c *gin.Context) {
	n, err := s.transfers.CountCompleted(c.Request.Context())
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, gin.H{"count": n})
}

func parseAccountID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.InvalidArgument.Explain("invalid %s: %q", field, raw)
	}
	return id, nil
}
