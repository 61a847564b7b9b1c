package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/authbridge/internal/adapter"
	"github.com/MarcoPoloResearchLab/authbridge/internal/metrics"
	"github.com/MarcoPoloResearchLab/authbridge/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultSessionCookieName is the cookie the authentication server stores the session token in.
const DefaultSessionCookieName = "authjs.session-token"

const principalContextKey = "authbridge_principal"

var (
	// ErrMisconfiguredPipeline reports a session resolver running before the anonymous baseline.
	ErrMisconfiguredPipeline = errors.New("session resolver: anonymous baseline must run first")
	// ErrAnonymousPrincipal is returned when the identity of an unauthenticated request is requested.
	ErrAnonymousPrincipal = errors.New("session resolver: request is not authenticated")

	errMissingSessionStore = errors.New("session store dependency required")
)

// SessionStore is the slice of the adapter the resolver needs.
type SessionStore interface {
	LookupSession(ctx context.Context, sessionToken string) (adapter.Session, error)
	IdentityForUser(ctx context.Context, userID string) (users.Identity, error)
}

// ResolutionRecorder observes the outcome of every resolution.
type ResolutionRecorder interface {
	RecordSessionResolution(outcome string)
}

type noOpResolutionRecorder struct{}

func (noOpResolutionRecorder) RecordSessionResolution(string) {}

// Principal is the identity attached to a request. The local identity of an
// authenticated principal is loaded on first use.
type Principal struct {
	session  adapter.Session
	identity func() (users.Identity, error)
}

var anonymousPrincipal = &Principal{}

func newPrincipal(ctx context.Context, store SessionStore, session adapter.Session) *Principal {
	return &Principal{
		session: session,
		identity: sync.OnceValues(func() (users.Identity, error) {
			return store.IdentityForUser(ctx, session.UserID)
		}),
	}
}

// Authenticated reports whether the request carried a live session.
func (p *Principal) Authenticated() bool {
	return p != nil && p.identity != nil
}

// UserID returns the authenticated user id, empty for anonymous requests.
func (p *Principal) UserID() string {
	if !p.Authenticated() {
		return ""
	}
	return p.session.UserID
}

// Session returns the session the principal was resolved from.
func (p *Principal) Session() (adapter.Session, bool) {
	if !p.Authenticated() {
		return adapter.Session{}, false
	}
	return p.session, true
}

// Identity resolves the local identity behind the session.
func (p *Principal) Identity() (users.Identity, error) {
	if !p.Authenticated() {
		return users.Identity{}, ErrAnonymousPrincipal
	}
	return p.identity()
}

// AnonymousContext establishes the unauthenticated baseline every request starts from.
func AnonymousContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(principalContextKey, anonymousPrincipal)
		c.Next()
	}
}

// PrincipalFromContext returns the principal attached to the request, anonymous when none is.
func PrincipalFromContext(c *gin.Context) *Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return anonymousPrincipal
	}
	principal, ok := value.(*Principal)
	if !ok || principal == nil {
		return anonymousPrincipal
	}
	return principal
}

// SessionResolverConfig describes the dependencies of the session resolver.
type SessionResolverConfig struct {
	Sessions   SessionStore
	CookieName string
	Clock      func() time.Time
	Recorder   ResolutionRecorder
	Logger     *zap.Logger
}

// SessionResolver upgrades the anonymous baseline to an authenticated principal
// when the request carries a live session cookie.
type SessionResolver struct {
	sessions   SessionStore
	cookieName string
	clock      func() time.Time
	recorder   ResolutionRecorder
	logger     *zap.Logger
}

// NewSessionResolver constructs a resolver with the provided configuration.
func NewSessionResolver(cfg SessionResolverConfig) (*SessionResolver, error) {
	if cfg.Sessions == nil {
		return nil, errMissingSessionStore
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noOpResolutionRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionResolver{
		sessions:   cfg.Sessions,
		cookieName: cookieName,
		clock:      clock,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// CookieName returns the cookie name consulted for session tokens.
func (r *SessionResolver) CookieName() string {
	return r.cookieName
}

// Install registers the anonymous baseline followed by the resolver. It is the only
// way to put the resolver on a route group.
func Install(routes gin.IRoutes, resolver *SessionResolver) error {
	if routes == nil || resolver == nil {
		return ErrMisconfiguredPipeline
	}
	routes.Use(AnonymousContext(), resolver.middleware())
	return nil
}

// middleware resolves the session cookie. It aborts with 500 when the anonymous
// baseline has not run.
func (r *SessionResolver) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(principalContextKey); !ok {
			r.logger.Error("session resolver misconfigured",
				zap.String("path", c.FullPath()),
				zap.Error(ErrMisconfiguredPipeline))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "misconfigured_pipeline"})
			return
		}

		principal, outcome := r.resolve(c)
		r.recorder.RecordSessionResolution(outcome)
		if principal != nil {
			c.Set(principalContextKey, principal)
		}
		c.Next()
	}
}

func (r *SessionResolver) resolve(c *gin.Context) (*Principal, string) {
	cookie, err := c.Request.Cookie(r.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, metrics.ResolutionAnonymous
	}

	ctx := c.Request.Context()
	session, err := r.sessions.LookupSession(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
			r.logger.Debug("session cookie did not match a session")
		} else {
			r.logger.Warn("session lookup failed", zap.Error(err))
		}
		return nil, metrics.ResolutionUnresolved
	}
	if !session.Expires.After(r.clock()) {
		r.logger.Debug("session cookie matched an expired session", zap.String("user_id", session.UserID))
		return nil, metrics.ResolutionUnresolved
	}
	return newPrincipal(ctx, r.sessions, session), metrics.ResolutionResolved
}
