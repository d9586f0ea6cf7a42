package handler

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wadjakorntonsri/fusly/pkg/config"
	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

const (
	stateCookie     = "oauthstate"
	googleUserInfo  = "https://www.googleapis.com/oauth2/v2/userinfo"
	maxUserInfoSize = 1 << 20
)

type AuthHandler struct {
	owners        ports.OwnerService
	oauthConfig   *oauth2.Config
	userInfoURL   string
	jwtSecret     []byte
	tokenTTL      time.Duration
	frontendURL   string
	allowedEmails []string
	isProduction  bool
	logger        *zap.Logger
}

type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// RegisterRequest payload
type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	Expiration int64  `json:"expiration"`
}

func NewAuthHandler(cfg *config.Config, owners ports.OwnerService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		owners: owners,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL:   googleUserInfo,
		jwtSecret:     []byte(cfg.JWTSecret),
		tokenTTL:      cfg.TokenTTL,
		frontendURL:   cfg.FrontendURL,
		allowedEmails: cfg.AllowedEmails,
		isProduction:  cfg.IsProduction(),
		logger:        logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, domain.BadRequest("Invalid request body"))
		return
	}

	owner, err := h.owners.Register(r.Context(), req.Email, req.FirstName, req.LastName, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User creation successful",
		"user":    owner,
	})
}

// Token exchanges HTTP basic credentials for a signed token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok || email == "" {
		writeError(w, h.logger, domain.Forbidden("Supply a username and password"))
		return
	}

	id, err := h.owners.Authenticate(r.Context(), email, password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	reg, ok := id.(domain.Registered)
	if !ok {
		writeError(w, h.logger, domain.Unauthorized("Invalid credentials"))
		return
	}
	token, _, err := h.issueToken(reg.Email)
	if err != nil {
		writeError(w, h.logger, domain.Internal("could not issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, Expiration: int64(h.tokenTTL.Seconds())})
}

// CurrentUser reports the caller's account and live mapping count.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	detail, err := h.owners.Details(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.oauthConfig.ClientID == "" {
		writeError(w, h.logger, domain.NotFound("Google login is not configured"))
		return
	}
	state, err := h.generateStateOauthCookie(w)
	if err != nil {
		writeError(w, h.logger, domain.Internal("could not start login", err))
		return
	}
	http.Redirect(w, r, h.oauthConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	oauthState, err := r.Cookie(stateCookie)
	if err != nil {
		h.logger.Warn("oauth callback without state cookie", zap.Error(err))
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		h.logger.Warn("oauth callback with mismatched state")
		writeError(w, h.logger, domain.Unauthorized("invalid oauth google state"))
		return
	}

	googleUser, err := h.fetchGoogleUser(r)
	if err != nil {
		writeError(w, h.logger, domain.Internal("google login failed", err))
		return
	}

	if len(h.allowedEmails) > 0 && !slices.Contains(h.allowedEmails, googleUser.Email) {
		h.logger.Warn("google login outside allowlist", zap.String("email", googleUser.Email))
		writeError(w, h.logger, domain.Forbidden("Access denied: your email is not in the allowlist"))
		return
	}

	id, err := h.owners.LoginExternal(r.Context(), googleUser.Email, googleUser.GivenName, googleUser.FamilyName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	reg, ok := id.(domain.Registered)
	if !ok {
		writeError(w, h.logger, domain.Unauthorized("Invalid credentials"))
		return
	}

	tokenString, expires, err := h.issueToken(reg.Email)
	if err != nil {
		writeError(w, h.logger, domain.Internal("could not issue token", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    tokenString,
		Expires:  expires,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("google login", zap.Int64("owner_id", reg.OwnerID))
	http.Redirect(w, r, h.frontendURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, strings.TrimSuffix(h.frontendURL, "/")+"/login", http.StatusTemporaryRedirect)
}

func (h *AuthHandler) fetchGoogleUser(r *http.Request) (*GoogleUser, error) {
	token, err := h.oauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	resp, err := h.oauthConfig.Client(r.Context(), token).Get(h.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info: unexpected status %d", resp.StatusCode)
	}

	var user GoogleUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoSize)).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if !user.VerifiedEmail {
		return nil, fmt.Errorf("email %s is not verified", user.Email)
	}
	return &user, nil
}

func (h *AuthHandler) issueToken(email string) (string, time.Time, error) {
	expires := time.Now().Add(h.tokenTTL)
	claims := &jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	return signed, expires, err
}

func (h *AuthHandler) generateStateOauthCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Expires:  time.Now().Add(20 * time.Minute),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}
