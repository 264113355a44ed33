package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey holds the *Result of the authenticated caller in the gin context.
const ResultKey = "auth_result"

type Middleware struct {
	svc *Service
}

// NewMiddleware returns middleware backed by svc. A nil svc disables
// authentication.
func NewMiddleware(svc *Service) *Middleware { return &Middleware{svc: svc} }

func (m *Middleware) Enabled() bool { return m != nil && m.svc != nil }

func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		res, err := m.authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

func (m *Middleware) GinRequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		v, ok := c.Get(ResultKey)
		res, _ := v.(*Result)
		if !ok || res == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}
		if !HasPermission(res.Roles, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// Login exchanges a LoginRequest for a token.
func (m *Middleware) Login(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication disabled"})
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Method == MethodJWT {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login requires basic or client_secret"})
		return
	}
	res, err := m.svc.Authenticate(req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (m *Middleware) authenticate(r *http.Request) (*Result, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.svc.Authenticate(LoginRequest{Method: MethodJWT, Token: value})
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		return m.svc.Authenticate(LoginRequest{Method: MethodBasic, Username: user, Password: pass})
	}
	if id, secret := r.Header.Get("X-Client-Id"), r.Header.Get("X-Client-Secret"); id != "" && secret != "" {
		return m.svc.Authenticate(LoginRequest{Method: MethodClientSecret, ClientID: id, ClientSecret: secret})
	}
	return nil, ErrInvalidCredentials
}
