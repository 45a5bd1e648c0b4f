package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const adminSessionContextKey = "adminSession"

type AdminSession struct {
	Email string
}

func (a *App) createAdminSessionToken(session AdminSession) (string, error) {
	now := a.clock()
	claims := jwt.MapClaims{
		"email": session.Email,
		"scope": "admin",
		"iat":   now.Unix(),
		"exp":   now.Add(adminSessionDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.AppSigningSecret))
}

func (a *App) verifyAdminSessionToken(tokenString string) (*AdminSession, error) {
	keyFunc := func(*jwt.Token) (any, error) {
		return []byte(a.cfg.AppSigningSecret), nil
	}
	token, err := jwt.Parse(tokenString, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	email, _ := claims["email"].(string)
	scope, _ := claims["scope"].(string)
	if email == "" || scope != "admin" {
		return nil, fmt.Errorf("invalid session payload")
	}
	return &AdminSession{Email: email}, nil
}

func (a *App) startAdminSession(c *gin.Context, session AdminSession) error {
	token, err := a.createAdminSessionToken(session)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(adminCookieName, token, int(adminSessionDuration.Seconds()), "/", "", a.isProduction(), true)
	return nil
}

func (a *App) clearAdminSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(adminCookieName, "", -1, "/", "", a.isProduction(), true)
}

func (a *App) adminSessionFromCookie(c *gin.Context) (*AdminSession, error) {
	token, err := c.Cookie(adminCookieName)
	if err != nil {
		return nil, err
	}
	return a.verifyAdminSessionToken(token)
}

func (a *App) requireAdminSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := a.adminSessionFromCookie(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Admin session required"})
			c.Abort()
			return
		}
		c.Set(adminSessionContextKey, *session)
		c.Next()
	}
}

func (a *App) requireAdminSessionHTML() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := a.adminSessionFromCookie(c)
		if err != nil {
			next := sanitizeAdminRedirectTarget(c.Request.URL.RequestURI())
			c.Redirect(http.StatusSeeOther, "/admin/login?next="+url.QueryEscape(next))
			c.Abort()
			return
		}
		c.Set(adminSessionContextKey, *session)
		c.Next()
	}
}

func getAdminSession(c *gin.Context) (AdminSession, error) {
	value, ok := c.Get(adminSessionContextKey)
	if !ok {
		return AdminSession{}, fmt.Errorf("missing session")
	}
	session, ok := value.(AdminSession)
	if !ok {
		return AdminSession{}, fmt.Errorf("invalid session")
	}
	return session, nil
}

type rateVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per scope and client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rateVisitor
}

func newIPRateLimiter() *ipRateLimiter {
	return &ipRateLimiter{visitors: make(map[string]*rateVisitor)}
}

func (l *ipRateLimiter) allow(key string, maxRequests int, window time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	visitor, ok := l.visitors[key]
	if !ok {
		every := rate.Every(window / time.Duration(maxRequests))
		visitor = &rateVisitor{limiter: rate.NewLimiter(every, maxRequests)}
		l.visitors[key] = visitor
	}
	visitor.lastSeen = now
	return visitor.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) startCleanup(ctx context.Context, interval, idleTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.prune(now, idleTTL)
			}
		}
	}()
}

func (l *ipRateLimiter) prune(now time.Time, idleTTL time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, visitor := range l.visitors {
		if now.Sub(visitor.lastSeen) >= idleTTL {
			delete(l.visitors, key)
		}
	}
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (a *App) rateLimit(scope string, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.limiter == nil {
			c.Next()
			return
		}
		key := scope + "|" + strings.TrimSpace(c.ClientIP())
		if !a.limiter.allow(key, maxRequests, window, a.clock()) {
			a.metrics.rateLimited(scope)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "Demasiados intentos. Espera unos minutos."})
			c.Abort()
			return
		}
		c.Next()
	}
}
