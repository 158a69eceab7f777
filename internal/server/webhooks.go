package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleWebhook receives one provider delivery. Signature rejections
// still answer 200 so providers do not retry forged or misconfigured
// deliveries forever; the result body carries the verdict.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhookSvc.Handle(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		s.log.Warn("webhook delivery rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.registry.Providers()})
}
