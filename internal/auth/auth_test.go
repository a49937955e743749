package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chainattend/internal/logger"
)

func testIssuer() Issuer {
	return Issuer{Name: "chainattend", Key: "test-key", AccessTTL: time.Minute, RefreshTTL: time.Hour}
}

func TestIssueAndParse(t *testing.T) {
	iss := testIssuer()
	pair, err := iss.Issue("dev-1", RoleDevice)
	if err != nil {
		t.Fatal(err)
	}
	if !pair.RefreshExp.After(pair.AccessExp) {
		t.Fatal("refresh token should outlive access token")
	}
	claims, err := iss.Parse(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "dev-1" || claims.Role != RoleDevice {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	iss := testIssuer()
	pair, _ := iss.Issue("dev-1", RoleDevice)

	other := iss
	other.Key = "other-key"
	if _, err := other.Parse(pair.AccessToken); err == nil {
		t.Fatal("token accepted with wrong key")
	}

	renamed := iss
	renamed.Name = "someone-else"
	if _, err := renamed.Parse(pair.AccessToken); err == nil {
		t.Fatal("token accepted with wrong issuer")
	}

	expired := iss
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue("dev-1", RoleDevice)
	if _, err := iss.Parse(old.AccessToken); err == nil {
		t.Fatal("expired token accepted")
	}

	if _, err := (Issuer{}).Issue("x", RoleUser); err == nil {
		t.Fatal("issued without key")
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := testIssuer()
	device, _ := iss.Issue("dev-1", RoleDevice)
	user, _ := iss.Issue("alice", RoleUser)

	r := gin.New()
	r.GET("/device", RequireRole(iss, RoleDevice), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})
	r.GET("/any", RequireRole(iss), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		path  string
		authz string
		want  int
	}{
		{"/device", "", http.StatusUnauthorized},
		{"/device", "Bearer garbage", http.StatusUnauthorized},
		{"/device", "Bearer " + user.AccessToken, http.StatusForbidden},
		{"/device", "Bearer " + device.AccessToken, http.StatusOK},
		{"/device", "bearer " + device.AccessToken, http.StatusOK},
		{"/any", "Bearer " + user.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.authz != "" {
			req.Header.Set("Authorization", tt.authz)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %q: got %d want %d", tt.path, tt.authz, w.Code, tt.want)
		}
	}
}

func TestRequireRoleTagsRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := testIssuer()
	device, _ := iss.Issue("dev-1", RoleDevice)

	var subject any
	r := gin.New()
	r.GET("/device", RequireRole(iss, RoleDevice), func(c *gin.Context) {
		subject = c.Request.Context().Value(logger.SubjectKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/device", nil)
	req.Header.Set("Authorization", "Bearer "+device.AccessToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || subject != "dev-1" {
		t.Fatalf("got %d subject %v", w.Code, subject)
	}
}
