package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/db"
)

const (
	cookieName           = "printhold_auth"
	tokenDuration        = 24 * time.Hour
	principalKey         = "principal"
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
)

type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
}

// Authenticator extracts the acting principal from a request. Three
// credential shapes are accepted: a pq_ bearer key, a kiosk_ bearer
// token, and a session JWT (cookie or bearer) minted by the login
// handlers below or by the external SSO proxy sharing our secret.
type Authenticator struct {
	keys   *auth.KeyService
	kiosks *auth.KioskService
	secret []byte
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	SetupRequired bool   `json:"setup_required"`
}

func NewAuthenticator(keys *auth.KeyService, kiosks *auth.KioskService) (*Authenticator, error) {
	a := &Authenticator{keys: keys, kiosks: kiosks}

	secret, err := a.getOrCreateSecret()
	if err != nil {
		return nil, err
	}
	a.secret = secret
	return a, nil
}

func (a *Authenticator) getOrCreateSecret() ([]byte, error) {
	ctx := context.Background()
	setting, err := db.Settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			secret := make([]byte, 32)
			secretHex := randomHex(secret)
			if err := db.Settings.SetSetting(ctx, settingsKeyJWTSecret, secretHex, false); err != nil {
				return nil, err
			}
			return secret, nil
		}
		return nil, err
	}
	return hex.DecodeString(setting.Value)
}

func randomHex(buf []byte) string {
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func (a *Authenticator) isSetupRequired() bool {
	_, err := db.Settings.GetSetting(context.Background(), settingsKeyPassword)
	return errors.Is(err, sql.ErrNoRows)
}

func (a *Authenticator) generateToken(username string, groups []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			Issuer:    "printhold",
		},
		Username: username,
		Groups:   groups,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Username != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (a *Authenticator) bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// RequirePrincipal authenticates the request and stores the principal in
// the gin context. Ordering matters: bearer secrets are checked by their
// prefix before the JWT path, so a revoked key can never fall through to
// a weaker credential.
func (a *Authenticator) RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := a.bearerToken(c)

		switch {
		case strings.HasPrefix(bearer, "pq_"):
			p, err := a.keys.Validate(c.Request.Context(), bearer)
			if err != nil {
				abortAuthError(c, err)
				return
			}
			c.Header("X-RateLimit-Remaining", strconv.Itoa(p.RateRemaining))
			c.Set(principalKey, p)

		case strings.HasPrefix(bearer, "kiosk_"):
			p, err := a.kiosks.Validate(c.Request.Context(), bearer, c.ClientIP())
			if err != nil {
				abortAuthError(c, err)
				return
			}
			c.Set(principalKey, p)

		default:
			token := bearer
			if token == "" {
				if cookie, err := c.Cookie(cookieName); err == nil {
					token = cookie
				}
			}
			if token == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
				return
			}
			claims, err := a.validateToken(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				return
			}
			c.Set(principalKey, auth.SessionPrincipal(claims.Username, claims.Groups))
		}

		c.Next()
	}
}

// RequireScope gates a route on an API key scope. Session users pass read
// and write checks implicitly; kiosks carry no scopes and are rejected.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil || !p.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// RequireAdmin gates a route on full authority as decided by the gate.
func RequireAdmin(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil || !gate.IsAdmin(p) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// Principal returns the authenticated principal set by RequirePrincipal.
func Principal(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

func abortAuthError(c *gin.Context, err error) {
	if errors.Is(err, auth.ErrRateLimited) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}
	if errors.Is(err, auth.ErrAuthenticationFailed) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or revoked credential"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication error"})
}

// LoginHandler authenticates the local admin account against the
// bcrypt-hashed password in settings and issues a session token. SSO
// users never hit this path; their sessions arrive pre-verified.
func (a *Authenticator) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if a.isSetupRequired() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Setup required"})
		return
	}

	setting, err := db.Settings.GetSetting(c.Request.Context(), settingsKeyPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	token, err := a.generateToken("admin", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	a.setAuthCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Authenticator) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Authenticator) StatusHandler(c *gin.Context) {
	token := a.bearerToken(c)
	if token == "" {
		if cookie, err := c.Cookie(cookieName); err == nil {
			token = cookie
		}
	}
	if token == "" {
		c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.isSetupRequired()})
		return
	}
	claims, err := a.validateToken(token)
	if err != nil {
		c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.isSetupRequired()})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Authenticated: true, Username: claims.Username})
}

// SetupHandler sets the local admin password on first run.
func (a *Authenticator) SetupHandler(c *gin.Context) {
	if !a.isSetupRequired() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, password must be at least 6 characters"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	if err := db.Settings.SetSetting(c.Request.Context(), settingsKeyPassword, string(hashed), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save password"})
		return
	}

	token, err := a.generateToken("admin", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	a.setAuthCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Authenticator) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(tokenDuration.Seconds()), "/", "", true, true)
}

func (a *Authenticator) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", a.LoginHandler)
	r.POST("/auth/logout", a.LogoutHandler)
	r.GET("/auth/status", a.StatusHandler)
	r.POST("/auth/setup", a.SetupHandler)
}
