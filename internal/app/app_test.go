package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/classlane/portal-auth-service/internal/config"
	"github.com/classlane/portal-auth-service/internal/domain"
)

func newTestApp(t *testing.T) *App {
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
		SigningSecret:      "app-test-signing-secret-0123456789abcdef",
		TokenIssuer:        "classlane-auth",
		TokenAudience:      "classlane",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		SessionTTL:         24 * time.Hour,
		TeacherPortalHosts: []string{"teach.example.com"},
		StudentPortalHosts: []string{"learn.example.com"},
		ProviderTimeout:    time.Second,
		AuthRateLimitRPM:   1000,
	}
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), db, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	return a
}

func TestNewWiresTheGraph(t *testing.T) {
	a := newTestApp(t)
	if a.Server == nil || a.Server.Handler == nil {
		t.Fatal("server must be built")
	}
	if a.Janitor == nil || a.Sessions == nil || a.Tokens == nil {
		t.Fatal("core services must be built")
	}

	req := httptest.NewRequest(http.MethodGet, "http://teach.example.com/health/live", nil)
	rr := httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness through the built handler: got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "http://teach.example.com/api/v1/me", nil)
	rr = httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("auth must be enforced through the built handler: got %d", rr.Code)
	}
}

func TestNewFailsOnShortSecret(t *testing.T) {
	a := newTestApp(t)
	cfg := *a.Config
	cfg.SigningSecret = "short"
	if _, err := New(&cfg, a.Logger, a.DB, nil); err == nil {
		t.Fatal("expected key derivation to reject a short secret")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run must return nil, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
