package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/pkg/jwt"
	"github.com/xxxsen/kbassist/internal/session"
)

const (
	ContextSessionKey = "session"
	SessionCookieName = "kbassist_session"
)

// Session attaches the browser session named by the signed cookie, issuing a
// new session and cookie when the cookie is missing, expired or forged.
func Session(store *session.Store, secret []byte, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logutil.GetLogger(c.Request.Context())
		var sess *session.Session
		if token, err := c.Cookie(SessionCookieName); err == nil && token != "" {
			if claims, err := jwt.ParseSessionToken(token, secret); err == nil {
				var restored bool
				sess, restored = store.Get(claims.SessionID)
				if restored {
					logger.Debug("session restored from cookie", zap.String("session", sess.ID()))
				}
			}
		}
		if sess == nil {
			sess = store.New()
			token, err := jwt.GenerateSessionToken(sess.ID(), secret, ttl)
			if err != nil {
				logger.Error("sign session cookie failed", zap.Error(err))
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookieName, token, int(ttl/time.Second), "/", "", c.Request.TLS != nil, true)
		}
		c.Set(ContextSessionKey, sess)
		c.Next()
	}
}

func GetSession(c *gin.Context) *session.Session {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*session.Session)
	return sess
}
