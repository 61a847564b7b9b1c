package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/authbridge/internal/adapter"
	"github.com/MarcoPoloResearchLab/authbridge/internal/auth"
	"github.com/MarcoPoloResearchLab/authbridge/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const serviceSubjectContextKey = "authbridge_service_subject"

var (
	errMissingAdapter         = errors.New("adapter service dependency required")
	errMissingSessionResolver = errors.New("session resolver dependency required")
	errInvalidBasePath        = errors.New("base path must start with /")
)

// ServiceTokenValidator authenticates the server-to-server calls on adapter endpoints.
type ServiceTokenValidator interface {
	ValidateRequest(r *http.Request) (string, error)
}

// Dependencies wires the HTTP surface. ServiceTokens, Metrics and Gatherer are optional.
type Dependencies struct {
	Adapter         *adapter.Service
	SessionResolver *auth.SessionResolver
	ServiceTokens   ServiceTokenValidator
	Metrics         *metrics.Collector
	Gatherer        prometheus.Gatherer
	BasePath        string
	AllowedOrigins  []string
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Adapter == nil {
		return nil, errMissingAdapter
	}
	if deps.SessionResolver == nil {
		return nil, errMissingSessionResolver
	}
	basePath := strings.TrimRight(strings.TrimSpace(deps.BasePath), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		return nil, errInvalidBasePath
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(requestMetrics(deps.Metrics))
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		adapter: deps.Adapter,
		tokens:  deps.ServiceTokens,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	browser := router.Group("/")
	if err := auth.Install(browser, deps.SessionResolver); err != nil {
		return nil, err
	}
	browser.GET("/session", handler.handleSession)

	adapterRoutes := router.Group(basePath)
	if deps.ServiceTokens != nil {
		adapterRoutes.Use(handler.authorizeService)
	}
	adapterRoutes.POST("/create-user/", handler.handleCreateUser)
	adapterRoutes.GET("/get-user/", handler.handleGetUser)
	adapterRoutes.GET("/get-user-by-account/", handler.handleGetUserByAccount)
	adapterRoutes.PUT("/update-user/", handler.handleUpdateUser)
	adapterRoutes.POST("/link-account/", handler.handleLinkAccount)
	adapterRoutes.DELETE("/delete-user/", handler.handleDeleteUser)
	adapterRoutes.DELETE("/unlink-account/", handler.handleUnlinkAccount)
	adapterRoutes.POST("/create-session/", handler.handleCreateSession)
	adapterRoutes.GET("/get-session-and-user/", handler.handleGetSessionAndUser)
	adapterRoutes.PUT("/update-session/", handler.handleUpdateSession)
	adapterRoutes.DELETE("/delete-session/", handler.handleDeleteSession)
	adapterRoutes.GET("/get-user-by-email/", handler.handleGetUserByEmail)
	adapterRoutes.POST("/create-verification-token/", handler.handleCreateVerificationToken)
	adapterRoutes.DELETE("/use-verification-token/", handler.handleUseVerificationToken)

	return router, nil
}

type httpHandler struct {
	adapter *adapter.Service
	tokens  ServiceTokenValidator
	logger  *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func requestMetrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func (h *httpHandler) authorizeService(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredServiceToken) || errors.Is(err, auth.ErrMissingServiceToken) {
			h.logger.Info("service token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("service token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": []string{"unauthorized"}})
		return
	}
	c.Set(serviceSubjectContextKey, subject)
	c.Next()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sessionResponsePayload struct {
	Authenticated bool                     `json:"authenticated"`
	UserID        string                   `json:"userId,omitempty"`
	Expires       *time.Time               `json:"expires,omitempty"`
	Identity      *identityResponsePayload `json:"identity,omitempty"`
}

type identityResponsePayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)
	session, ok := principal.Session()
	if !ok {
		c.JSON(http.StatusOK, sessionResponsePayload{})
		return
	}

	identity, err := principal.Identity()
	if err != nil {
		h.logger.Warn("session identity resolution failed",
			zap.String("user_id", principal.UserID()),
			zap.Error(err))
		c.JSON(http.StatusOK, sessionResponsePayload{})
		return
	}

	expires := session.Expires
	c.JSON(http.StatusOK, sessionResponsePayload{
		Authenticated: true,
		UserID:        principal.UserID(),
		Expires:       &expires,
		Identity: &identityResponsePayload{
			ID:       identity.ID,
			Email:    identity.Email,
			Username: identity.Username,
		},
	})
}
