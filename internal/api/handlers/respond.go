package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
	"example.com/pharmatrace/services/provenance/internal/services"
)

// respondError maps service and repository errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBatchNotFound),
		errors.Is(err, services.ErrBottleNotFound),
		errors.Is(err, repositories.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, security.ErrSecretMissing):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server is not configured for token operations"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// bindJSONAllowEmpty binds a JSON body whose fields are all optional. A
// missing body leaves the target at its zero value instead of failing.
func bindJSONAllowEmpty(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// intQuery reads an integer query parameter, falling back when absent or
// malformed
func intQuery(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
