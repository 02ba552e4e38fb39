package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paynotify/internal/audit/masking"
	"github.com/smallbiznis/paynotify/internal/config"
)

type diagnosticsResponse struct {
	Mode          string          `json:"mode"`
	AccessToken   string          `json:"access_token"`
	APIBaseURL    string          `json:"api_base_url"`
	LedgerBackend string          `json:"ledger_backend"`
	DedupBackend  string          `json:"dedup_backend"`
	EventsEnabled bool            `json:"events_enabled"`
	Tunables      tunablesPayload `json:"tunables"`
}

type tunablesPayload struct {
	DedupTTLSeconds         int64    `json:"dedup_ttl_seconds"`
	CreditMaxAttempts       int      `json:"credit_max_attempts"`
	LegacyReferencePrefixes []string `json:"legacy_reference_prefixes"`
	LegacyReferenceMinLen   int      `json:"legacy_reference_min_length"`
	OrderKeywords           []string `json:"order_keywords"`
}

// Diagnostics reports the effective runtime settings. The access token is
// always masked.
func (s *Server) Diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, buildDiagnostics(s.cfg, s.tunables.Get()))
}

func buildDiagnostics(cfg config.Config, tunables config.ReconcileConfig) diagnosticsResponse {
	return diagnosticsResponse{
		Mode:          cfg.MercadoPago.Mode,
		AccessToken:   masking.MaskSecret(cfg.MercadoPago.AccessToken()),
		APIBaseURL:    cfg.MercadoPago.BaseURL,
		LedgerBackend: cfg.LedgerBackend,
		DedupBackend:  cfg.Dedup.Backend,
		EventsEnabled: strings.TrimSpace(cfg.Events.AMQPURL) != "",
		Tunables: tunablesPayload{
			DedupTTLSeconds:         int64(tunables.DedupTTL.Seconds()),
			CreditMaxAttempts:       tunables.CreditMaxAttempts,
			LegacyReferencePrefixes: tunables.LegacyReferencePrefixes,
			LegacyReferenceMinLen:   tunables.LegacyReferenceMinLen,
			OrderKeywords:           tunables.OrderKeywords,
		},
	}
}
