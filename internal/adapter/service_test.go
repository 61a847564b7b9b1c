package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/authbridge/internal/users"
	"go.uber.org/zap"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !errors.Is(err, errMissingDatabase) {
		t.Fatalf("expected missing database error, got %v", err)
	}
	harness := newTestHarness(t, zap.NewNop())
	if _, err := NewService(ServiceConfig{Database: harness.db}); !errors.Is(err, errMissingIdentityStore) {
		t.Fatalf("expected missing identity store error, got %v", err)
	}
}

func TestCreateUserThenGetUserReturnsSameProjection(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	verifiedAt := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	created := mustCreateUser(t, harness.service, User{
		ID:            "u1",
		Name:          stringPointer("John Doe"),
		Email:         stringPointer("a@b.com"),
		EmailVerified: &verifiedAt,
	})
	if created.ID != "u1" {
		t.Fatalf("expected id u1, got %q", created.ID)
	}

	fetched, err := harness.service.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if *fetched.Email != "a@b.com" || *fetched.Name != "John Doe" {
		t.Fatalf("unexpected projection: %+v", fetched)
	}
	if fetched.EmailVerified == nil || !fetched.EmailVerified.Equal(verifiedAt) {
		t.Fatalf("unexpected email verified value: %v", fetched.EmailVerified)
	}
	if fetched.Image != nil {
		t.Fatalf("expected nil image, got %q", *fetched.Image)
	}
}

func TestCreateUserIsIdempotentOnID(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("a@b.com"), Name: stringPointer("First")})
	second := mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("other@b.com"), Name: stringPointer("Second")})

	if *second.Email != "a@b.com" || *second.Name != "First" {
		t.Fatalf("expected stored values to win, got %+v", second)
	}

	var identities int64
	if err := harness.db.Model(&users.Identity{}).Count(&identities).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if identities != 1 {
		t.Fatalf("expected one linked identity, got %d", identities)
	}
}

func TestCreateUserGeneratesHexID(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	created := mustCreateUser(t, harness.service, User{Email: stringPointer("anon@b.com")})
	if len(created.ID) != 32 {
		t.Fatalf("expected 32 character hex id, got %q", created.ID)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("a@b.com")})
	_, err := harness.service.CreateUser(context.Background(), User{ID: "u2", Email: stringPointer("a@b.com")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if harness.recorder.count("create_user", OutcomeConflict) != 1 {
		t.Fatalf("expected conflict outcome to be recorded")
	}
}

func TestGetUserReportsNotFound(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	_, err := harness.service.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "adapter.get_user.user_not_found" {
		t.Fatalf("unexpected error code: %v", err)
	}
}

func TestGetUserByEmailMatchesExactly(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("a@b.com")})

	found, err := harness.service.GetUserByEmail(context.Background(), "a@b.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found.ID != "u1" {
		t.Fatalf("unexpected user: %+v", found)
	}
	if _, err := harness.service.GetUserByEmail(context.Background(), "A@B.COM"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected case-sensitive miss, got %v", err)
	}
}

func TestUpdateUserChangesOnlySuppliedFields(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	mustCreateUser(t, harness.service, User{
		ID:    "u1",
		Name:  stringPointer("John Doe"),
		Email: stringPointer("a@b.com"),
		Image: stringPointer("old.png"),
	})

	updated, err := harness.service.UpdateUser(context.Background(), UserPatch{
		ID:    "u1",
		Image: Some("lorempicsum"),
		Name:  Null[string](),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Image == nil || *updated.Image != "lorempicsum" {
		t.Fatalf("expected image to change, got %v", updated.Image)
	}
	if updated.Name != nil {
		t.Fatalf("expected name to be cleared, got %q", *updated.Name)
	}
	if updated.Email == nil || *updated.Email != "a@b.com" {
		t.Fatalf("expected email to be untouched, got %v", updated.Email)
	}

	if _, err := harness.service.UpdateUser(context.Background(), UserPatch{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteUserReturnsSnapshotAndCascades(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("a@b.com")})
	if _, err := harness.service.LinkAccount(ctx, Account{
		UserID: "u1", Type: AccountTypeOAuth, Provider: "test", ProviderAccountID: "p1",
	}); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if _, err := harness.service.CreateSession(ctx, Session{
		SessionToken: "s1", UserID: "u1", Expires: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	deleted, err := harness.service.DeleteUser(ctx, "u1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted.ID != "u1" || *deleted.Email != "a@b.com" {
		t.Fatalf("unexpected snapshot: %+v", deleted)
	}

	for _, model := range []any{&UserRecord{}, &AccountRecord{}, &SessionRecord{}, &users.Identity{}} {
		var remaining int64
		if err := harness.db.Model(model).Count(&remaining).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if remaining != 0 {
			t.Fatalf("expected %T rows to be removed, %d remain", model, remaining)
		}
	}
	if _, err := harness.service.DeleteUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestIdentityForUserResolvesLinkedIdentity(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	mustCreateUser(t, harness.service, User{ID: "u1", Email: stringPointer("a@b.com"), Name: stringPointer("John")})

	identity, err := harness.service.IdentityForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if identity.Email != "a@b.com" || identity.Username != "John" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if _, err := harness.service.IdentityForUser(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOperationsPropagateCancelledContext(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := harness.service.GetUser(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if _, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1"); err == nil {
		t.Fatalf("expected cancellation to surface from a swallowing operation")
	}
}

func TestCreateUserWithoutEmailGetsDistinctIdentities(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	mustCreateUser(t, harness.service, User{ID: "u1"})
	mustCreateUser(t, harness.service, User{ID: "u2"})

	first, err := harness.service.IdentityForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	second, err := harness.service.IdentityForUser(context.Background(), "u2")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected email-less users to own separate identities")
	}
}

func TestUpdateUserEmailReleasesPreviousIdentityKey(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	mustCreateUser(t, harness.service, User{ID: "u1", Name: stringPointer("Ann"), Email: stringPointer("old@b.com")})

	if _, err := harness.service.UpdateUser(ctx, UserPatch{ID: "u1", Email: Some("new@b.com")}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	identity, err := harness.service.IdentityForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if identity.Email != "new@b.com" || identity.Username != "Ann" {
		t.Fatalf("expected identity to follow the new email, got %+v", identity)
	}

	mustCreateUser(t, harness.service, User{ID: "u2", Name: stringPointer("Ann"), Email: stringPointer("old@b.com")})
	other, err := harness.service.IdentityForUser(ctx, "u2")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if other.ID == identity.ID {
		t.Fatalf("expected distinct identities, both resolved to %s", identity.ID)
	}

	if _, err := harness.service.UpdateUser(ctx, UserPatch{ID: "u2", Email: Null[string]()}); err != nil {
		t.Fatalf("clearing email failed: %v", err)
	}
	cleared, err := harness.service.IdentityForUser(ctx, "u2")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cleared.Email != "" || cleared.Username != "u2" {
		t.Fatalf("expected email-less identity keyed by user id, got %+v", cleared)
	}
}
