package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", JWTMiddleware(secret, audience), func(c *gin.Context) {
		subject, _ := Subject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return r
}

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func call(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	r := newRouter("s3cret", "greenhouse")
	token := sign(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "camera-3",
		Audience:  jwt.ClaimStrings{"greenhouse"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp := call(r, "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "camera-3" {
		t.Fatalf("expected subject in context, got %q", resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "camera-3", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := map[string]struct {
		secret   string
		audience string
		header   string
	}{
		"missing header":  {secret: "s3cret", header: ""},
		"wrong scheme":    {secret: "s3cret", header: "Basic abc"},
		"wrong secret":    {secret: "s3cret", header: "Bearer " + sign(t, "other", valid)},
		"wrong audience":  {secret: "s3cret", audience: "greenhouse", header: "Bearer " + sign(t, "s3cret", valid)},
		"no secret":       {secret: "", header: "Bearer " + sign(t, "s3cret", valid)},
		"missing subject": {secret: "s3cret", header: "Bearer " + sign(t, "s3cret", jwt.RegisteredClaims{})},
		"expired":         {secret: "s3cret", header: "Bearer " + sign(t, "s3cret", jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := call(newRouter(tc.secret, tc.audience), tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}
