package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/entity"
	profilerepo "github.com/Additional-Code/courierdesk/internal/repository/profile"
	"github.com/Additional-Code/courierdesk/pkg/errorbank"
)

// LoginPath is where unauthenticated requests are sent.
const LoginPath = "/login"

const (
	keyUserID  = "user_id"
	keyEmail   = "email"
	keySession = "session_key"

	ctxSession   = "auth.session"
	ctxForbidden = "auth.forbidden"
)

// MsgInvalidCredentials is shown for any failed sign-in.
const MsgInvalidCredentials = "Invalid email or password."

// Session is the signed-in user for one request.
type Session struct {
	// Key identifies the browser session; dashboard state is scoped by it.
	Key    string
	UserID string
	Email  string
	Role   entity.Role
}

// HomePath returns the landing page for a role.
func HomePath(role entity.Role) string {
	switch role {
	case entity.RoleAdmin:
		return "/admin"
	case entity.RoleDriver:
		return "/driver"
	default:
		return "/dashboard"
	}
}

// Gate authenticates requests against the cookie session.
type Gate struct {
	store      sessions.Store
	cookieName string
	profiles   *profilerepo.Repository
	resolver   *Resolver
	logger     *zap.Logger
}

// NewSessionStore builds the signed cookie store.
func NewSessionStore(cfg config.Config) *sessions.CookieStore {
	s := sessions.NewCookieStore([]byte(cfg.Auth.SessionSecret))
	s.Options.Path = "/"
	s.Options.HttpOnly = true
	s.Options.Secure = cfg.Auth.SecureCookie
	s.Options.SameSite = http.SameSiteLaxMode
	s.Options.MaxAge = int(cfg.Auth.SessionMaxAge.Seconds())
	return s
}

// NewGate wires a Gate.
func NewGate(cfg config.Config, profiles *profilerepo.Repository, resolver *Resolver, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Auth.CookieName
	if name == "" {
		name = "courierdesk-session"
	}
	return &Gate{
		store:      NewSessionStore(cfg),
		cookieName: name,
		profiles:   profiles,
		resolver:   resolver,
		logger:     logger,
	}
}

// CurrentSession reads the signed-in user from the request cookie and
// resolves its role. ok is false when nobody is signed in.
func (g *Gate) CurrentSession(r *http.Request) (*Session, bool) {
	sess, err := g.store.Get(r, g.cookieName)
	if err != nil {
		g.logger.Debug("session cookie rejected", zap.Error(err))
		return nil, false
	}
	userID, _ := sess.Values[keyUserID].(string)
	if userID == "" {
		return nil, false
	}
	email, _ := sess.Values[keyEmail].(string)
	key, _ := sess.Values[keySession].(string)
	if key == "" {
		key = userID
	}
	return &Session{
		Key:    key,
		UserID: userID,
		Email:  email,
		Role:   g.resolver.Role(r.Context(), userID),
	}, true
}

// SignIn checks the credentials and stores the user in the session cookie.
func (g *Gate) SignIn(c echo.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errorbank.BadRequest(MsgInvalidCredentials)
	}

	account, err := g.profiles.AccountByEmail(c.Request().Context(), email)
	if errors.Is(err, profilerepo.ErrNotFound) {
		return nil, errorbank.Unauthorized(MsgInvalidCredentials)
	}
	if err != nil {
		g.logger.Error("account lookup failed", zap.Error(err))
		return nil, errorbank.Internal("Sign-in is unavailable. Please try again.", errorbank.WithCause(err))
	}
	if !CheckPassword(account.PasswordHash, password) {
		return nil, errorbank.Unauthorized(MsgInvalidCredentials)
	}

	sess, _ := g.store.Get(c.Request(), g.cookieName)
	sess.Values[keyUserID] = account.ID
	sess.Values[keyEmail] = account.Email
	sess.Values[keySession] = uuid.NewString()
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		g.logger.Error("session save failed", zap.Error(err))
		return nil, errorbank.Internal("Sign-in is unavailable. Please try again.", errorbank.WithCause(err))
	}

	g.resolver.Forget(c.Request().Context(), account.ID)
	return &Session{
		Key:    sess.Values[keySession].(string),
		UserID: account.ID,
		Email:  account.Email,
		Role:   g.resolver.Role(c.Request().Context(), account.ID),
	}, nil
}

// SignOut clears the session cookie and returns the key of the ended session.
func (g *Gate) SignOut(c echo.Context) string {
	sess, err := g.store.Get(c.Request(), g.cookieName)
	if err != nil {
		return ""
	}
	key, _ := sess.Values[keySession].(string)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		g.logger.Warn("session clear failed", zap.Error(err))
	}
	return key
}

// RequireAuth admits signed-in users whose role is in allowed. Others are
// redirected to their home page, or, when redirectOnForbidden is false, let
// through flagged as forbidden so the handler can explain the refusal.
func (g *Gate) RequireAuth(allowed []entity.Role, redirectOnForbidden bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := g.CurrentSession(c.Request())
			if !ok {
				return c.Redirect(http.StatusSeeOther, LoginPath)
			}
			c.Set(ctxSession, sess)
			c.SetRequest(c.Request().WithContext(WithSession(c.Request().Context(), sess)))

			if len(allowed) > 0 && !slices.Contains(allowed, sess.Role) {
				if redirectOnForbidden {
					return c.Redirect(http.StatusSeeOther, HomePath(sess.Role))
				}
				c.Set(ctxForbidden, true)
			}
			return next(c)
		}
	}
}

// RequireAPI is RequireAuth for JSON routes: failures are errors, never redirects.
func (g *Gate) RequireAPI(allowed ...entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := g.CurrentSession(c.Request())
			if !ok {
				return errorbank.Unauthorized("sign in required")
			}
			if len(allowed) > 0 && !slices.Contains(allowed, sess.Role) {
				return errorbank.Forbidden("insufficient role", errorbank.WithDetail("role", string(sess.Role)))
			}
			c.Set(ctxSession, sess)
			c.SetRequest(c.Request().WithContext(WithSession(c.Request().Context(), sess)))
			return next(c)
		}
	}
}

// RedirectIfLoggedIn sends signed-in users away from the login page.
func (g *Gate) RedirectIfLoggedIn(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if sess, ok := g.CurrentSession(c.Request()); ok {
			return c.Redirect(http.StatusSeeOther, HomePath(sess.Role))
		}
		return next(c)
	}
}

// SessionFrom returns the session stored by RequireAuth.
func SessionFrom(c echo.Context) (*Session, bool) {
	sess, ok := c.Get(ctxSession).(*Session)
	return sess, ok && sess != nil
}

// IsForbidden reports whether RequireAuth let the request through with an
// insufficient role.
func IsForbidden(c echo.Context) bool {
	v, _ := c.Get(ctxForbidden).(bool)
	return v
}

type sessionKey struct{}

// WithSession stores sess on a context.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}
