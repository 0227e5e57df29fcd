package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/classlane/portal-auth-service/internal/app"
	"github.com/classlane/portal-auth-service/internal/config"
	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/repository"
	"github.com/classlane/portal-auth-service/internal/service"
)

const (
	teacherHost = "teach.example.com"
	studentHost = "learn.example.com"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newApp(t *testing.T, redisClient *redis.Client, rpm int) (*app.App, *httptest.Server) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		Environment:        "development",
		HTTPAddr:           "127.0.0.1:0",
		SigningSecret:      "integration-test-signing-secret-0123456789",
		TokenIssuer:        "classlane-auth",
		TokenAudience:      "classlane",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		SessionTTL:         24 * time.Hour,
		TeacherPortalHosts: []string{teacherHost},
		StudentPortalHosts: []string{studentHost},
		ProviderTimeout:    time.Second,
		AuthRateLimitRPM:   rpm,
	}
	a, err := app.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), db, redisClient)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)
	return a, srv
}

// seedLogin stands in for a completed OAuth callback: it creates the user,
// mints a token pair and opens a session, returning the cookies a real
// login response would have set.
func seedLogin(t *testing.T, a *app.App, email, role string, p portal.Portal) (*domain.User, *service.TokenPair, *domain.Session) {
	t.Helper()
	users := repository.NewUserRepository(a.DB)
	user, err := users.FindOrCreateByEmail(&domain.User{
		Email:     email,
		Name:      "Integration User",
		Role:      role,
		IsActive:  true,
		IsStudent: p == portal.Student,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	meta := service.TokenMetadata{UserAgent: "integration-test", IP: "127.0.0.1", LoginMethod: "google"}
	pair, err := a.Tokens.IssuePair(user, p, meta)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	sess, err := a.Sessions.Create(user.ID, p, meta)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return user, pair, sess
}

func loginCookies(p portal.Portal, pair *service.TokenPair, sessionID string) []*http.Cookie {
	names := p.Carriers()
	return []*http.Cookie{
		{Name: names.Access, Value: pair.Access},
		{Name: names.Refresh, Value: pair.Refresh},
		{Name: portal.LegacyCarrier, Value: sessionID},
	}
}

func do(t *testing.T, srv *httptest.Server, method, host, path string, cookies []*http.Cookie) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Host = host
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("decode envelope from %s %s: %v (body %q)", method, path, err, body)
		}
	}
	return resp, env
}

func responseCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("response did not set cookie %q", name)
	return nil
}
