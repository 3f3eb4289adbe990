package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleActor serves the identity document peers fetch when caching a
// public key for signature checks.
func (s *Server) handleActor(c *gin.Context) {
	username := c.Param("username")
	address := username + "@" + s.conf.Conf.Domain

	identity, err := s.database.ReadIdentity(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}
	if identity == nil || !identity.Local {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}

	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.JSON(http.StatusOK, gin.H{
		"username":     identity.Username,
		"domain":       identity.Domain,
		"publicKeyPem": identity.PublicKeyPem,
	})
}
