package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/tradecore/api/responses"
)

type historyQuery struct {
	Since string `form:"since" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit int    `form:"limit" binding:"omitempty,min=1"`
}

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.market.Assets(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, assets)
}

// marketHistory returns recent MarketData rows for a symbol, newest first
func (s *Server) marketHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	var since time.Time
	if q.Since != "" {
		since, _ = time.Parse(time.RFC3339, q.Since)
	}
	limit := q.Limit
	if limit == 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}

	rows, err := s.market.History(c.Request.Context(), strings.ToUpper(c.Param("symbol")), since, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, rows)
}
