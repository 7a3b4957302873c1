package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Bop4yH/wallet/api/responses"
	"github.com/Bop4yH/wallet/pkg/errors"
)

func (s *Server) createAccount(c *gin.Context) {
	var req createAccountRequest
	if !s.bind(c, &req) {
		return
	}
	owner := s.clean(req.OwnerName)
	if owner == "" {
		responses.BadRequest(c, "owner_name must not be empty")
		return
	}

	acc, err := s.accounts.Create(c.Request.Context(), owner, req.Currency)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Created(c, toAccountResponse(acc))
}

func (s *Server) listAccounts(c *gin.Context) {
	list, err := s.accounts.List(c.Request.Context())
	if err != nil {
		responses.Error(c, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for i := range list {
		out = append(out, toAccountResponse(&list[i]))
	}
	responses.OK(c, gin.H{"accounts": out})
}

func (s *Server) getAccount(c *gin.Context) {
	id, ok := s.pathID(c, "account")
	if !ok {
		return
	}
	acc, err := s.accounts.Get(c.Request.Context(), id)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toAccountResponse(acc))
}

func (s *Server) getAccountByName(c *gin.Context) {
	currency := c.Query("currency")
	if currency == "" {
		responses.Error(c, errors.InvalidArgument.Explain("currency query parameter is required"))
		return
	}
	acc, err := s.accounts.GetByName(c.Request.Context(), c.Param("owner"), currency)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toAccountResponse(acc))
}

func (s *Server) deleteAccount(c *gin.Context) {
	id, ok := s.pathID(c, "account")
	if !ok {
		return
	}
	if err := s.accounts.Delete(c.Request.Context(), id); err != nil {
		responses.Error(c, err)
		return
	}
	responses.NoContent(c)
}

func (s *Server) deposit(c *gin.Context) {
	s.mutateBalance(c, s.accounts.Deposit)
}

func (s *Server) withdraw(c *gin.Context) {
	s.mutateBalance(c, s.accounts.Withdraw)
}

func (s *Server) addBonus(c *gin.Context) {
	s.mutateBalance(c, s.accounts.AddBonus)
}

func (s *Server) mutateBalance(c *gin.Context, op balanceOp) {
	id, ok := s.pathID(c, "account")
	if !ok {
		return
	}
	var req amountRequest
	if !s.bind(c, &req) {
		return
	}
	acc, err := op(c.Request.Context(), id, req.Amount)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toAccountResponse(acc))
}

func (s *Server) statistics(c *gin.Context) {
	id, ok := s.pathID(c, "account")
	if !ok {
		return
	}
	stats, err := s.accounts.Statistics(c.Request.Context(), id)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.OK(c, toStatisticsResponse(stats))
}
