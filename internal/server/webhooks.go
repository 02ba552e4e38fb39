package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	obslogger "github.com/smallbiznis/paynotify/internal/observability/logger"
	"go.uber.org/zap"
)

const maxNotificationBody = 1 << 20

// HandleNotification acknowledges a processor notification once at least one
// candidate or order reference was extracted. Order expansion and
// reconciliation run after responding.
// Reconciliation failures never change the response.
func (s *Server) HandleNotification(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	result, err := s.notifications.Intake(ctx, body, c.ContentType(), c.Request.URL.Query())
	if result.NotificationID != "" {
		c.Set("notification_id", result.NotificationID)
		ctx = obscontext.WithNotificationID(ctx, result.NotificationID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})

	if err := s.notifications.Dispatch(ctx, result); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("notification acknowledged but not dispatched",
			zap.Uint64s("candidates", result.Candidates),
			zap.String("order_url", result.OrderURL),
			zap.Error(err),
		)
	}
}

func (s *Server) WebhookLiveness(c *gin.Context) {
	c.String(http.StatusOK, "Webhook OK (GET)")
}
