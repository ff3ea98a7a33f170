// bootstrap.go implements the first-run bootstrap exchange. A random token
// is generated at first boot, printed to the server log exactly once, and
// stored only as a bcrypt hash. Exchanging the token yields a short-lived
// SuperAdmin JWT for wiring up the real identity provider and issuing the
// first service credentials; the exchange invalidates the token.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

// BootstrapTokenSetting is the system_settings key holding the bcrypt hash
// of the bootstrap token.
const BootstrapTokenSetting = "bootstrap_token_hash"

// BootstrapCompletedValue replaces the stored hash once the exchange has
// succeeded. The marker survives restarts so the token is never regenerated
// after bootstrap completes; it can never collide with a real value because
// stored hashes always carry a bcrypt prefix.
const BootstrapCompletedValue = "completed"

// bootstrapTokenTTL bounds the JWT issued by the exchange.
const bootstrapTokenTTL = time.Hour

const (
	bootstrapMaxAttempts = 5
	bootstrapRateWindow  = time.Minute
)

// bootstrapRateLimiter tracks per-IP attempt counts so the token cannot be
// brute-forced. Allows bootstrapMaxAttempts per window per IP.
type bootstrapRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func (rl *bootstrapRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-bootstrapRateWindow)

	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= bootstrapMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}
	rl.attempts[ip] = append(recent, now)
	return true
}

// BootstrapHandler handles the one-time bootstrap token exchange.
type BootstrapHandler struct {
	settings *repositories.SettingsRepository
	limiter  *bootstrapRateLimiter
}

// NewBootstrapHandler creates a new bootstrap handler.
func NewBootstrapHandler(settings *repositories.SettingsRepository) *BootstrapHandler {
	return &BootstrapHandler{
		settings: settings,
		limiter:  &bootstrapRateLimiter{attempts: make(map[string][]time.Time)},
	}
}

type bootstrapRequest struct {
	Token string `json:"token" binding:"required"`
}

// Exchange handles POST /api/v1/admin/bootstrap. Unauthenticated by nature;
// the token is the authentication.
func (h *BootstrapHandler) Exchange(c *gin.Context) {
	if !h.limiter.allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return
	}

	var req bootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid request body")
		return
	}

	hash, err := h.settings.Get(c.Request.Context(), BootstrapTokenSetting)
	if errors.Is(err, repositories.ErrNotFound) || hash == BootstrapCompletedValue {
		c.JSON(http.StatusGone, gin.H{"error": "bootstrap already completed"})
		return
	}
	if err != nil {
		respond.Error(c, err)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Token)) != nil {
		slog.Warn("bootstrap token rejected", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid bootstrap token"})
		return
	}

	token, err := auth.GenerateJWT("bootstrap", "bootstrap", "SuperAdmin", bootstrapTokenTTL)
	if err != nil {
		respond.Error(c, err)
		return
	}

	// Single use: the completion marker replaces the hash so the token can
	// neither be exchanged again nor regenerated on the next boot.
	if err := h.settings.Set(c.Request.Context(), BootstrapTokenSetting, BootstrapCompletedValue); err != nil {
		slog.Error("failed to invalidate bootstrap token", "error", err)
	}

	slog.Info("bootstrap token exchanged", "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(bootstrapTokenTTL.Seconds()),
	})
}
