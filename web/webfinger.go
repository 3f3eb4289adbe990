package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleWebfinger resolves acct: resources for local identities, enough for
// ActivityPub-speaking peers to find the actor document.
func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" || !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	username := strings.TrimPrefix(resource, "acct:")
	username = strings.TrimSuffix(username, fmt.Sprintf("@%s", s.conf.Conf.Domain))

	identity, err := s.database.ReadIdentity(c.Request.Context(), username+"@"+s.conf.Conf.Domain)
	if err != nil || identity == nil || !identity.Local {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", identity.Username, s.conf.Conf.Domain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": fmt.Sprintf("https://%s/users/%s", s.conf.Conf.Domain, identity.Username),
			},
		},
	})
}
