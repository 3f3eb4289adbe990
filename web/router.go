package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/metafed/metafed/db"
	"github.com/metafed/metafed/discovery"
	"github.com/metafed/metafed/domain"
	"github.com/metafed/metafed/federation"
	"github.com/metafed/metafed/messaging"
	"github.com/metafed/metafed/util"
)

// Server bundles the HTTP surface's collaborators. Everything is injected;
// the router owns no state of its own.
type Server struct {
	conf      *util.AppConfig
	database  *db.DB
	processor *federation.Processor
	messages  *messaging.Manager
}

func NewServer(conf *util.AppConfig, database *db.DB, processor *federation.Processor, messages *messaging.Manager) *Server {
	return &Server{conf: conf, database: database, processor: processor, messages: messages}
}

// intOr returns v unless it is unset in the config, then the fallback.
func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Router builds the gin engine with all federation routes. Rate and body
// limits come from the config.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	globalLimiter := NewRateLimiter(
		rate.Limit(intOr(s.conf.Conf.RateLimitPerSec, 10)),
		intOr(s.conf.Conf.RateLimitBurst, 20),
	)
	g.Use(globalLimiter.Middleware())

	// The inbox gets a stricter budget and a body cap
	inboxLimiter := NewRateLimiter(
		rate.Limit(intOr(s.conf.Conf.InboxRateLimitPerSec, 5)),
		intOr(s.conf.Conf.InboxRateLimitBurst, 10),
	)
	maxBodySize := MaxBytesMiddleware(int64(intOr(s.conf.Conf.MaxInboxBodyKb, 1024)) * 1024)

	g.GET(discovery.WellKnownPath, s.handleWellKnown)
	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/users/:username", s.handleActor)
	g.POST("/inbox", inboxLimiter.Middleware(), maxBodySize, s.handleInbox)

	// Local messaging API. Authentication sits in front of this server;
	// these routes trust the proxy.
	g.POST("/api/messages", s.handleSendMessage)
	g.GET("/api/messages/unread", s.handleUnreadCount)

	return g
}

// Run serves the router until the listener fails.
func (s *Server) Run() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

// handleWellKnown serves the discovery document peers fetch during tier-2
// resolution.
func (s *Server) handleWellKnown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server_url": fmt.Sprintf("https://%s", s.conf.Conf.Domain),
	})
}

// handleInbox runs the receive pipeline on one posted activity. The HTTP
// signature is checked against the actor's key before any processing;
// validation failures map onto status codes and business-rule rejections
// ride inside the 202 result body.
func (s *Server) handleInbox(c *gin.Context) {
	if c.GetHeader("Signature") == "" {
		log.Printf("Inbox: missing HTTP signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
		return
	}

	var act domain.Activity
	if err := c.ShouldBindJSON(&act); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed activity"})
		return
	}

	if err := s.processor.VerifyHTTPSignature(c.Request.Context(), c.Request, act.Actor); err != nil {
		if errors.Is(err, federation.ErrInvalidSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		} else {
			log.Printf("Inbox: signature check failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	result, err := s.processor.Receive(c.Request.Context(), &act)
	switch {
	case errors.Is(err, federation.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, federation.ErrDomainBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "domain blocked"})
	case errors.Is(err, federation.ErrUnsupportedActivityType), errors.Is(err, federation.ErrMalformedObject):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		log.Printf("Inbox: processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusAccepted, result)
	}
}

type sendMessageRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from, to and text are required"})
		return
	}

	msg, err := s.messages.Send(c.Request.Context(), req.From, req.To, req.Text)
	if err != nil {
		if errors.Is(err, messaging.ErrRecipientKeyUnknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipient unknown"})
			return
		}
		log.Printf("Messaging: send failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": msg.Id.String(), "created_at": msg.CreatedAt})
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	n, err := s.messages.UnreadCount(c.Request.Context(), address)
	if err != nil {
		log.Printf("Messaging: unread count failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}
