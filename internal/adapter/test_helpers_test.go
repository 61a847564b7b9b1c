package adapter

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/authbridge/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordedOperation struct {
	operation string
	outcome   string
}

type stubRecorder struct {
	mu         sync.Mutex
	operations []recordedOperation
}

func (r *stubRecorder) RecordOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = append(r.operations, recordedOperation{operation: operation, outcome: outcome})
}

func (r *stubRecorder) count(operation, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, recorded := range r.operations {
		if recorded.operation == operation && recorded.outcome == outcome {
			total++
		}
	}
	return total
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	recorder *stubRecorder
}

func newTestHarness(t *testing.T, logger *zap.Logger) testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "adapter.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(append(Models(), &users.Identity{})...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build identity service: %v", err)
	}
	recorder := &stubRecorder{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Identities: identities,
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build adapter service: %v", err)
	}
	return testHarness{service: service, db: db, recorder: recorder}
}

func mustCreateUser(t *testing.T, service *Service, user User) User {
	t.Helper()
	created, err := service.CreateUser(context.Background(), user)
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return created
}

func stringPointer(value string) *string {
	return &value
}
