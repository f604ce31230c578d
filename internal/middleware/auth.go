package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/gin-gonic/gin"
)

const ContextPrincipalKey = "principal"

// maxSignedBody bounds how much of a request body is read for signing.
const maxSignedBody = 1 << 20

func AuthMiddleware(gate *service.AuthGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 读取请求体用于验签, 并写回以便后续 Bind 使用
		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxSignedBody+1))
			if err != nil {
				c.Error(apperrors.NewValidation(apperrors.ReasonInvalidInput, "unreadable request body"))
				c.Abort()
				return
			}
			if len(body) > maxSignedBody {
				tooLarge := apperrors.NewValidation(apperrors.ReasonBodyTooLarge, "request body too large").
					WithDetail("max_bytes", maxSignedBody)
				tooLarge.HTTPStatus = http.StatusRequestEntityTooLarge
				c.Error(tooLarge)
				c.Abort()
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		// the signature covers the request target exactly as sent
		path := c.Request.RequestURI
		if path == "" {
			path = c.Request.URL.RequestURI()
		}

		p, err := gate.Authenticate(c.Request.Context(), service.Envelope{
			APIKey:    c.GetHeader(signer.HeaderAPIKey),
			Timestamp: c.GetHeader(signer.HeaderTimestamp),
			Signature: c.GetHeader(signer.HeaderSignature),
			Method:    c.Request.Method,
			Path:      path,
			Body:      body,
		})
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		c.Set(ContextPrincipalKey, p)
		c.Request = c.Request.WithContext(service.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(c *gin.Context) *service.Principal {
	if v, ok := c.Get(ContextPrincipalKey); ok {
		if p, ok := v.(*service.Principal); ok {
			return p
		}
	}
	return service.PrincipalFromContext(c.Request.Context())
}

// RequirePermission rejects callers lacking perm. Admin holds every permission.
func RequirePermission(perm model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.Error(apperrors.NewAuthentication(apperrors.ReasonMissingCredentials, "authentication required"))
			c.Abort()
			return
		}
		if !p.Can(perm) {
			c.Error(apperrors.NewAuthorization("missing permission").WithDetail("required", perm))
			c.Abort()
			return
		}
		c.Next()
	}
}
