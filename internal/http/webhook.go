// README: Inbound payment notification endpoint; signature check runs before any state is touched.
package http

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const signatureHeader = "X-JWS-Signature"

// handlePaymentNotify verifies the detached JWS over the raw body, then
// hands title/status to the transaction manager. The provider expects
// the literal body "TRUE" as acknowledgement and retries anything else.
func (s *Server) handlePaymentNotify(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.String(http.StatusBadRequest, "FALSE")
		return
	}

	sig := c.GetHeader(signatureHeader)
	if sig == "" {
		c.String(http.StatusUnauthorized, "FALSE")
		return
	}
	if err := s.verifier.Verify(c.Request.Context(), raw, sig); err != nil {
		s.logger.Warn("rejected payment notification", zap.Error(err))
		c.String(http.StatusUnauthorized, "FALSE")
		return
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		c.String(http.StatusBadRequest, "FALSE")
		return
	}
	title := form.Get("tr_id")
	status := form.Get("tr_status")
	if title == "" {
		c.String(http.StatusBadRequest, "FALSE")
		return
	}

	if err := s.payments.HandleNotification(c.Request.Context(), title, status); err != nil {
		// Dependency failure: let the provider retry.
		s.logger.Error("notification handling failed", zap.String("title", title), zap.Error(err))
		c.String(http.StatusInternalServerError, "FALSE")
		return
	}
	c.String(http.StatusOK, "TRUE")
}
