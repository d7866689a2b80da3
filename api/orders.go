package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Aidin1998/tradecore/api/responses"
	"github.com/Aidin1998/tradecore/internal/trading"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/errors"
)

type listOrdersQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending open filled cancelled rejected"`
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func bindError(err error) error {
	return errors.Validation.Explain("malformed request: %s", err.Error())
}

func orderIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errors.Validation.Explain("invalid order id").WithField("id", "must be a UUID")
	}
	return id, nil
}

// placeOrder accepts market, limit, stop and stop_limit orders
func (s *Server) placeOrder(c *gin.Context) {
	var req trading.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	order, err := s.trading.PlaceOrder(c.Request.Context(), callerID(c), req)
	if err != nil {
		if order != nil {
			// the order was stored; report it so the caller can follow it
			s.writeError(c, err, gin.H{"orderId": order.ID.String(), "orderStatus": order.Status})
			return
		}
		s.writeError(c, err)
		return
	}
	responses.Created(c, order, "Order accepted")
}

// cancelOrder cancels a live order by ID
func (s *Server) cancelOrder(c *gin.Context) {
	id, err := orderIDParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	order, err := s.trading.CancelOrder(c.Request.Context(), callerID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, order, "Order cancelled")
}

// getOrder returns order details by ID
func (s *Server) getOrder(c *gin.Context) {
	id, err := orderIDParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	order, err := s.trading.GetOrder(c.Request.Context(), callerID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, order)
}

// listOrders lists the caller's orders with optional status/symbol filters
func (s *Server) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	orders, err := s.trading.ListOrders(c.Request.Context(), repository.OrderFilter{
		UserID: callerID(c),
		Status: q.Status,
		Symbol: strings.ToUpper(strings.TrimSpace(q.Symbol)),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Paginated(c, orders, &responses.PaginationMeta{Limit: q.Limit, Offset: q.Offset, Count: len(orders)})
}

func (s *Server) orderAudit(c *gin.Context) {
	id, err := orderIDParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	entries, err := s.trading.OrderAudit(c.Request.Context(), callerID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, entries)
}

func (s *Server) listTrades(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	trades, err := s.trading.ListTrades(c.Request.Context(), callerID(c), q.Limit, q.Offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Paginated(c, trades, &responses.PaginationMeta{Limit: q.Limit, Offset: q.Offset, Count: len(trades)})
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.trading.ListPositions(c.Request.Context(), callerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, positions)
}

func (s *Server) getBalance(c *gin.Context) {
	balance, err := s.trading.GetBalance(c.Request.Context(), callerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, balance)
}
