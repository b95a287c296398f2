package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulsehub/internal/admin"
)

// Health godoc
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DomainRepository is the slice of admin.Repository the diagnostic endpoint
// needs.
type DomainRepository interface {
	FindByKey(ctx context.Context, key string) (admin.Domain, error)
}

// DomainHealthHandler implements the ops diagnostic endpoint supplemented
// from original_source's dashboard: a read-only status check for a key,
// deliberately narrower than the excluded dashboard API (see Non-goals).
type DomainHealthHandler struct {
	repo DomainRepository
}

func NewDomainHealthHandler(repo DomainRepository) *DomainHealthHandler {
	return &DomainHealthHandler{repo: repo}
}

// DomainHealth godoc
// @Summary Check whether an API key's domain is active
// @Description Read-only ops diagnostic: resolves x-app-key (or api_key) to its domain and active status.
// @Tags health
// @Produce json
// @Param x-app-key header string false "Application key"
// @Param api_key query string false "Application key"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/health/domain [get]
func (h *DomainHealthHandler) DomainHealth(c *gin.Context) {
	key := c.Query("api_key")
	if key == "" {
		key = c.GetHeader("x-app-key")
	}
	if key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	domain, err := h.repo.FindByKey(ctx, key)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or inactive key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domain_id":   domain.ID,
		"domain_name": domain.DomainName,
		"is_active":   domain.IsActive,
	})
}
