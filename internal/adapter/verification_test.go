package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestVerificationTokenIsUsableOnce(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: expires})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Token != "t1" || !created.Expires.Equal(expires) {
		t.Fatalf("unexpected created token: %+v", created)
	}

	first, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1")
	if err != nil {
		t.Fatalf("use failed: %v", err)
	}
	redeemed, ok := first.Value()
	if !ok || redeemed.Identifier != "a@b.com" || !redeemed.Expires.Equal(expires) {
		t.Fatalf("expected first use to return the token, got %+v", first)
	}

	second, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1")
	if err != nil {
		t.Fatalf("second use failed: %v", err)
	}
	if second.Present() {
		t.Fatalf("expected second use to be empty")
	}
}

func TestUseVerificationTokenRequiresMatchingIdentifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	harness := newTestHarness(t, zap.New(core))
	ctx := context.Background()
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := harness.service.UseVerificationToken(ctx, "other@b.com", "t1")
	if err != nil {
		t.Fatalf("expected swallowed failure, got %v", err)
	}
	if result.Present() {
		t.Fatalf("expected mismatched identifier to be empty")
	}
	if logs.FilterMessage("could not use verification token").Len() != 1 {
		t.Fatalf("expected swallowed failure to be logged")
	}

	still, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1")
	if err != nil || !still.Present() {
		t.Fatalf("expected the token to survive a mismatched redemption, got %v", err)
	}
}

func TestCreateVerificationTokenRejectsDuplicatesAndMissingFields(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: expires}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: expires}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate pair conflict, got %v", err)
	}
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "c@d.com", Token: "t1", Expires: expires}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate token conflict, got %v", err)
	}
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Expires: expires}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing token to be rejected, got %v", err)
	}
	if harness.recorder.count("create_verification_token", OutcomeConflict) != 2 {
		t.Fatalf("expected conflicts to be recorded")
	}
}

func TestConcurrentRedemptionSucceedsExactlyOnce(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const redeemers = 8
	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		winners   int
		failures  []error
	)
	start := make(chan struct{})
	for index := 0; index < redeemers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			result, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if result.Present() {
				winners++
			}
		}()
	}
	close(start)
	waitGroup.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected redemption errors: %v", failures)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", winners)
	}
}

func TestRedemptionLosingTheDeleteRaceReturnsEmpty(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	harness := newTestHarness(t, zap.New(core))
	ctx := context.Background()
	if _, err := harness.service.CreateVerificationToken(ctx, VerificationToken{Identifier: "a@b.com", Token: "t1", Expires: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A competing redeemer removes the row after the read but before the guarded delete.
	var (
		raced   bool
		raceErr error
	)
	err := harness.db.Callback().Delete().Before("gorm:delete").Register("test:competing_redeemer", func(db *gorm.DB) {
		if raced || db.Statement.Table != (VerificationTokenRecord{}).TableName() {
			return
		}
		raced = true
		raceErr = db.Session(&gorm.Session{NewDB: true}).
			Exec("DELETE FROM authjs_verification_tokens WHERE identifier = ? AND token = ?", "a@b.com", "t1").
			Error
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	result, err := harness.service.UseVerificationToken(ctx, "a@b.com", "t1")
	if err != nil {
		t.Fatalf("expected the lost race to be swallowed, got %v", err)
	}
	if !raced || raceErr != nil {
		t.Fatalf("expected the competing delete to run, raced=%v err=%v", raced, raceErr)
	}
	if result.Present() {
		t.Fatalf("expected empty result after losing the race, got %+v", result)
	}
	if harness.recorder.count("use_verification_token", OutcomeEmpty) != 1 {
		t.Fatalf("expected an empty outcome to be recorded")
	}
	if harness.recorder.count("use_verification_token", OutcomeOK) != 0 {
		t.Fatalf("expected no successful redemption to be recorded")
	}
	if logs.FilterMessage("could not use verification token").Len() != 1 {
		t.Fatalf("expected the lost race to be logged")
	}
}

func TestRedemptionOfDistinctTokensIsIndependent(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	ctx := context.Background()
	for index := 0; index < 3; index++ {
		token := VerificationToken{Identifier: "a@b.com", Token: fmt.Sprintf("t%d", index), Expires: time.Now().Add(time.Hour)}
		if _, err := harness.service.CreateVerificationToken(ctx, token); err != nil {
			t.Fatalf("create %s failed: %v", token.Token, err)
		}
	}
	for index := 0; index < 3; index++ {
		result, err := harness.service.UseVerificationToken(ctx, "a@b.com", fmt.Sprintf("t%d", index))
		if err != nil || !result.Present() {
			t.Fatalf("expected token t%d to redeem, got %v", index, err)
		}
	}
}
