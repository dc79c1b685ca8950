package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 1 << 20
	refreshHeader     = "X-Refresh-Token"
	defaultCookieName = "refresh_token"
	defaultCookiePath = "/auth"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

type Opts struct {
	Logger         *zap.Logger
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
	// LegacyBodyRefresh accepts the refresh token from the request body
	// ({"refreshToken": "..."}) or the X-Refresh-Token header when the cookie
	// is absent. Both are readable by page script, so it is off by default.
	LegacyBodyRefresh bool
	// Dev adds the underlying error to infrastructure failure bodies.
	Dev bool
}

type Controller struct {
	uc   *Usecase
	log  *zap.Logger
	opts Opts
}

func NewController(uc *Usecase, o Opts) *Controller {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.CookieName == "" {
		o.CookieName = defaultCookieName
	}
	if o.CookiePath == "" {
		o.CookiePath = defaultCookiePath
	}
	if o.CookieSameSite == 0 {
		o.CookieSameSite = http.SameSiteLaxMode
	}
	return &Controller{uc: uc, log: o.Logger, opts: o}
}

// Register mounts the auth routes on r. Everything except /auth/me is public.
func (c *Controller) Register(r *mux.Router) {
	s := r.PathPrefix("/auth").Subrouter()
	s.HandleFunc("/register", c.handleRegister).Methods(http.MethodPost)
	s.HandleFunc("/login", c.handleLogin).Methods(http.MethodPost)
	s.HandleFunc("/refresh", c.handleRefresh).Methods(http.MethodPost)
	s.HandleFunc("/logout", c.handleLogout).Methods(http.MethodPost)
	s.Handle("/me", RequireBearer(c.uc.ParseAccess, c.writeError)(http.HandlerFunc(c.handleMe))).Methods(http.MethodGet)
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Role        user.Role `json:"role"`
	TenantID    string    `json:"tenantId"`
}

func toUserResponse(u *user.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		TenantID:    u.TenantID,
	}
}

type authResponse struct {
	AccessToken string       `json:"accessToken"`
	User        userResponse `json:"user"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Role        string `json:"role"`
	PhoneNumber string `json:"phoneNumber"`
	TenantID    string `json:"tenantId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionRequest struct {
	RefreshToken string `json:"refreshToken"`
	AllSessions  bool   `json:"allSessions"`
}

func (c *Controller) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		c.writeError(w, r, err)
		return
	}
	sess, err := c.uc.Register(r.Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		PhoneNumber: req.PhoneNumber,
		TenantID:    req.TenantID,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.setRefreshCookie(w, sess)
	writeJSON(w, http.StatusCreated, authResponse{AccessToken: sess.AccessToken, User: toUserResponse(sess.User)})
}

func (c *Controller) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		c.writeError(w, r, err)
		return
	}
	sess, err := c.uc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.setRefreshCookie(w, sess)
	writeJSON(w, http.StatusOK, authResponse{AccessToken: sess.AccessToken, User: toUserResponse(sess.User)})
}

func (c *Controller) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	_ = decodeJSON(r, &req, true)
	raw := c.refreshToken(r, req)

	sess, err := c.uc.Refresh(r.Context(), raw)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			c.clearRefreshCookie(w)
		}
		c.writeError(w, r, err)
		return
	}
	c.setRefreshCookie(w, sess)
	writeJSON(w, http.StatusOK, authResponse{AccessToken: sess.AccessToken, User: toUserResponse(sess.User)})
}

func (c *Controller) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	_ = decodeJSON(r, &req, true)
	raw := c.refreshToken(r, req)

	if err := c.uc.Logout(r.Context(), raw, req.AllSessions); err != nil {
		obs.FromContext(r.Context(), c.log).Error("auth.logout", zap.Error(err))
	}
	c.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (c *Controller) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromCtx(r.Context())
	if !ok {
		c.writeError(w, r, ErrMalformed)
		return
	}
	u, err := c.uc.Me(r.Context(), claims.PrincipalID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// refreshToken looks at the cookie first, then the legacy body field, then the header.
func (c *Controller) refreshToken(r *http.Request, req sessionRequest) string {
	if ck, err := r.Cookie(c.opts.CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	if !c.opts.LegacyBodyRefresh {
		return ""
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	return r.Header.Get(refreshHeader)
}

func (c *Controller) setRefreshCookie(w http.ResponseWriter, sess *Session) {
	maxAge := int(time.Until(sess.RefreshExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(c.uc.RefreshTTL().Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.opts.CookieName,
		Value:    sess.RefreshToken,
		Path:     c.opts.CookiePath,
		Domain:   c.opts.CookieDomain,
		HttpOnly: true,
		Secure:   c.opts.CookieSecure,
		SameSite: c.opts.CookieSameSite,
		MaxAge:   maxAge,
		Expires:  sess.RefreshExpiresAt.UTC(),
	})
}

func (c *Controller) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.opts.CookieName,
		Value:    "",
		Path:     c.opts.CookiePath,
		Domain:   c.opts.CookieDomain,
		HttpOnly: true,
		Secure:   c.opts.CookieSecure,
		SameSite: c.opts.CookieSameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func mapErr(err error) (int, errorBody) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody{Code: "INVALID_CREDENTIALS", Message: ErrInvalidCredentials.Error()}
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusBadRequest, errorBody{Code: "ALREADY_EXISTS", Message: ErrAlreadyExists.Error()}
	case errors.Is(err, ErrWeakPassword):
		return http.StatusBadRequest, errorBody{Code: "INVALID_ARGUMENT", Message: ErrWeakPassword.Error()}
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Code: "INVALID_ARGUMENT", Message: err.Error()}
	case errors.Is(err, ErrInvalidOrExpired):
		return http.StatusUnauthorized, errorBody{Code: "INVALID_OR_EXPIRED", Message: ErrInvalidOrExpired.Error()}
	case errors.Is(err, ErrRevoked):
		return http.StatusUnauthorized, errorBody{Code: "REVOKED", Message: ErrRevoked.Error()}
	case errors.Is(err, ErrPrincipalGone):
		return http.StatusUnauthorized, errorBody{Code: "PRINCIPAL_GONE", Message: ErrPrincipalGone.Error()}
	case errors.Is(err, ErrMalformed):
		return http.StatusUnauthorized, errorBody{Code: "MALFORMED", Message: ErrMalformed.Error()}
	default:
		return http.StatusServiceUnavailable, errorBody{Code: "DATABASE_UNAVAILABLE", Message: ErrUnavailable.Error()}
	}
}

func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := mapErr(err)
	if status >= http.StatusInternalServerError {
		obs.FromContext(r.Context(), c.log).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		if c.opts.Dev {
			body.Detail = err.Error()
		}
		if id := obs.TraceID(r.Context()); id != "" {
			w.Header().Set("X-Trace-Id", id)
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body. With optional an empty body is not an error.
func decodeJSON(r *http.Request, v any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return ErrInvalidInput
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: request body must be valid JSON", ErrInvalidInput)
	}
	return nil
}
