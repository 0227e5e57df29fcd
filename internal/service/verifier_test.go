package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/provider"
	"github.com/classlane/portal-auth-service/internal/security"
)

type fakeIDP struct {
	verifyFn func(ctx context.Context, raw string) (*provider.Claims, error)
	calls    int
	mu       sync.Mutex
}

func (p *fakeIDP) VerifyToken(ctx context.Context, raw string) (*provider.Claims, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.verifyFn != nil {
		return p.verifyFn(ctx, raw)
	}
	return nil, provider.ErrTokenInvalid
}

func newTestJWTManager(t *testing.T) *security.JWTManager {
	t.Helper()
	ks, err := security.DeriveKeys("service-test-signing-secret-0123456789")
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}
	return security.NewJWTManager("classlane-auth", "classlane", ks.AccessSigning, ks.RefreshSigning)
}

func newTestVerifier(t *testing.T, users *inMemoryUserRepo, idp provider.TokenVerifier, devMode bool) *Verifier {
	t.Helper()
	return NewVerifier(newTestJWTManager(t), users, idp, devMode, time.Second)
}

func seedUser(t *testing.T, users *inMemoryUserRepo, u domain.User) *domain.User {
	t.Helper()
	if err := users.Create(&u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &u
}

func TestVerifyDevBypassRequiresDevMode(t *testing.T) {
	users := newInMemoryUserRepo()
	idp := &fakeIDP{}

	// Production: prefix match must fail closed before any other branch.
	v := newTestVerifier(t, users, idp, false)
	_, err := v.Verify(context.Background(), "dev-token-anything")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential in production, got %v", err)
	}
	if idp.calls != 0 {
		t.Fatal("dev-prefixed token must never reach the external provider")
	}

	// Development: synthetic identity, no store or provider involved.
	v = newTestVerifier(t, users, idp, true)
	u, err := v.Verify(context.Background(), "dev-token-anything")
	if err != nil {
		t.Fatalf("dev mode verify: %v", err)
	}
	if !u.IsActive || u.Role != domain.RoleAdmin {
		t.Fatalf("unexpected synthetic identity: %+v", u)
	}
}

func TestVerifySelfIssuedReturnsFreshRole(t *testing.T) {
	users := newInMemoryUserRepo()
	u := seedUser(t, users, domain.User{Email: "t@example.com", Role: domain.RoleTeacher, IsActive: true})
	v := newTestVerifier(t, users, &fakeIDP{}, false)

	raw, err := v.jwtMgr.SignAccessToken(u.ID, u.Role, "teacher", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Role changes after issuance; verification must see the new role.
	u.Role = domain.RoleAdmin
	if err := users.Update(u); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Role != domain.RoleAdmin {
		t.Fatalf("expected fresh role admin, got %q", got.Role)
	}
}

func TestVerifySelfIssuedInactiveIdentityFails(t *testing.T) {
	users := newInMemoryUserRepo()
	u := seedUser(t, users, domain.User{Email: "t@example.com", Role: domain.RoleTeacher, IsActive: true})
	v := newTestVerifier(t, users, &fakeIDP{}, false)

	raw, err := v.jwtMgr.SignAccessToken(u.ID, u.Role, "", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	u.IsActive = false
	if err := users.Update(u); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err = v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for inactive identity, got %v", err)
	}
}

func TestVerifyExpiredSelfIssuedSurfacesExpiry(t *testing.T) {
	users := newInMemoryUserRepo()
	u := seedUser(t, users, domain.User{Email: "t@example.com", Role: domain.RoleTeacher, IsActive: true})
	idp := &fakeIDP{}
	v := newTestVerifier(t, users, idp, false)

	raw, err := v.jwtMgr.SignAccessToken(u.ID, u.Role, "", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
	if idp.calls != 0 {
		t.Fatal("expired self-issued token must not fall through to the provider")
	}
}

func TestVerifyUnknownTokenFallsThroughToProvider(t *testing.T) {
	users := newInMemoryUserRepo()
	idp := &fakeIDP{verifyFn: func(context.Context, string) (*provider.Claims, error) {
		return &provider.Claims{Subject: "g-1", Email: "new@example.com", EmailVerified: true, Name: "New"}, nil
	}}
	v := newTestVerifier(t, users, idp, false)

	u, err := v.Verify(context.Background(), "opaque-provider-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.Email != "new@example.com" {
		t.Fatalf("unexpected identity: %+v", u)
	}
	if users.count() != 1 {
		t.Fatalf("expected auto-provisioned identity, have %d users", users.count())
	}
}

func TestVerifyProviderUnavailableIsDistinct(t *testing.T) {
	users := newInMemoryUserRepo()
	idp := &fakeIDP{verifyFn: func(context.Context, string) (*provider.Claims, error) {
		return nil, fmt.Errorf("%w: connection refused", provider.ErrUnavailable)
	}}
	v := newTestVerifier(t, users, idp, false)

	_, err := v.Verify(context.Background(), "some-token")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredential) {
		t.Fatal("provider unavailability must not read as invalid credential")
	}
}

func TestVerifyProviderRejectionIsInvalid(t *testing.T) {
	users := newInMemoryUserRepo()
	v := newTestVerifier(t, users, &fakeIDP{}, false)

	_, err := v.Verify(context.Background(), "garbage")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyUnverifiedProviderEmailIsInvalid(t *testing.T) {
	users := newInMemoryUserRepo()
	idp := &fakeIDP{verifyFn: func(context.Context, string) (*provider.Claims, error) {
		return &provider.Claims{Subject: "g-1", Email: "x@example.com", EmailVerified: false}, nil
	}}
	v := newTestVerifier(t, users, idp, false)

	_, err := v.Verify(context.Background(), "tok")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if users.count() != 0 {
		t.Fatal("unverified email must not provision an identity")
	}
}

func TestVerifyConcurrentFirstLoginsCreateOneIdentity(t *testing.T) {
	users := newInMemoryUserRepo()
	idp := &fakeIDP{verifyFn: func(context.Context, string) (*provider.Claims, error) {
		return &provider.Claims{Subject: "g-9", Email: "race@example.com", EmailVerified: true}, nil
	}}
	v := newTestVerifier(t, users, idp, false)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.Verify(context.Background(), "tok")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if users.count() != 1 {
		t.Fatalf("expected exactly one identity, have %d", users.count())
	}
}

func TestClassify(t *testing.T) {
	users := newInMemoryUserRepo()
	v := newTestVerifier(t, users, &fakeIDP{}, false)

	if got := v.Classify("dev-token-abc"); got != TokenKindDev {
		t.Fatalf("expected dev kind, got %v", got)
	}
	raw, err := v.jwtMgr.SignAccessToken(1, "teacher", "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := v.Classify(raw); got != TokenKindSelfIssued {
		t.Fatalf("expected self-issued kind, got %v", got)
	}
	if got := v.Classify("something-else"); got != TokenKindExternal {
		t.Fatalf("expected external kind, got %v", got)
	}
}
