package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joemckie/collogsync/internal/catalog"
	"github.com/joemckie/collogsync/internal/syncer"
	"github.com/joemckie/collogsync/internal/tracker"
	"go.uber.org/zap"
)

const clientIDContextKey = "collog_client_id"

var (
	errMissingEngine        = errors.New("sync engine dependency required")
	errMissingTokens        = errors.New("token validator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SyncEngine is the coordinator surface the HTTP layer depends on.
type SyncEngine interface {
	OnSession(ctx context.Context, event syncer.SessionEvent)
	OnAnnouncement(message string)
	OnTick(ctx context.Context)
	OnInventory(stacks []tracker.ItemStack)
	OnLoot(grants []tracker.ItemStack)
	RequestResync(ctx context.Context)
	Lookup(ctx context.Context, categoryID catalog.CategoryID, playerName string) ([]tracker.ObtainedItem, error)
	Freshness(ctx context.Context, playerName string) (bool, error)
	Events() *syncer.Dispatcher
}

// TokenValidator validates API bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Engine SyncEngine
	Tokens TokenValidator
	Logger *zap.Logger
}

// NewHTTPHandler builds the daemon's HTTP API: signal ingestion from the
// game-client bridge plus the lookup surface for UI/chat collaborators.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine: deps.Engine,
		tokens: deps.Tokens,
		logger: logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/signals/session", handler.handleSessionSignal)
	protected.POST("/signals/announcement", handler.handleAnnouncementSignal)
	protected.POST("/signals/tick", handler.handleTickSignal)
	protected.POST("/signals/inventory", handler.handleInventorySignal)
	protected.POST("/signals/loot", handler.handleLootSignal)
	protected.POST("/resync", handler.handleResync)
	protected.GET("/log/:player", handler.handleLookup)
	protected.GET("/log/:player/fresh", handler.handleFreshness)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	engine SyncEngine
	tokens TokenValidator
	logger *zap.Logger
}

type sessionSignalPayload struct {
	State       string `json:"state"`
	Username    string `json:"username"`
	AccountType string `json:"account_type"`
	AccountID   int64  `json:"account_id"`
}

func (h *httpHandler) handleSessionSignal(c *gin.Context) {
	var request sessionSignalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	state := syncer.SessionState(strings.ToLower(strings.TrimSpace(request.State)))
	switch state {
	case syncer.SessionLogin, syncer.SessionLogout, syncer.SessionHop:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_state"})
		return
	}
	h.engine.OnSession(c.Request.Context(), syncer.SessionEvent{
		State:       state,
		Username:    request.Username,
		AccountType: request.AccountType,
		AccountID:   request.AccountID,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type announcementSignalPayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleAnnouncementSignal(c *gin.Context) {
	var request announcementSignalPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.engine.OnAnnouncement(request.Message)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleTickSignal(c *gin.Context) {
	h.engine.OnTick(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type stacksSignalPayload struct {
	Items []tracker.ItemStack `json:"items"`
}

func (h *httpHandler) handleInventorySignal(c *gin.Context) {
	var request stacksSignalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.engine.OnInventory(request.Items)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleLootSignal(c *gin.Context) {
	var request stacksSignalPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.engine.OnLoot(request.Items)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleResync(c *gin.Context) {
	h.engine.RequestResync(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type lookupItemPayload struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
	Date  *int64 `json:"date,omitempty"`
}

type lookupResponsePayload struct {
	Player   string              `json:"player"`
	Category string              `json:"category"`
	Items    []lookupItemPayload `json:"items"`
}

func (h *httpHandler) handleLookup(c *gin.Context) {
	playerName := c.Param("player")
	categoryID, err := catalog.NewCategoryID(c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category"})
		return
	}

	items, err := h.engine.Lookup(c.Request.Context(), categoryID, playerName)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, syncer.ErrCatalogNotReady):
			status = http.StatusServiceUnavailable
		case errors.Is(err, syncer.ErrUnknownCategory):
			status = http.StatusNotFound
		}
		h.logger.Warn("lookup failed", zap.String("player", playerName), zap.Error(err))
		c.JSON(status, gin.H{"error": "lookup_failed"})
		return
	}

	response := lookupResponsePayload{
		Player:   playerName,
		Category: categoryID.String(),
		Items:    make([]lookupItemPayload, 0, len(items)),
	}
	for _, item := range items {
		payload := lookupItemPayload{ID: item.ID.Int(), Name: item.Name, Count: item.Count}
		if item.ObtainedAt != nil {
			seconds := item.ObtainedAt.Unix()
			payload.Date = &seconds
		}
		response.Items = append(response.Items, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleFreshness(c *gin.Context) {
	playerName := c.Param("player")
	fresh, err := h.engine.Freshness(c.Request.Context(), playerName)
	if err != nil {
		h.logger.Warn("freshness check failed", zap.String("player", playerName), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "freshness_check_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"player": playerName, "fresh": fresh})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	stream, cleanup := h.engine.Events().Subscribe(c.Request.Context())
	defer cleanup()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(clientIDContextKey, subject)
	c.Next()
}
