package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/spec-kit/matchbot/internal/domain"
	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

type busyReconciler struct {
	err error
}

func (b busyReconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	return ReconcileSummary{}, b.err
}

func TestReconcileNowReportsConflictWhenBusy(t *testing.T) {
	admin := NewAdminService(AdminDependencies{Reconciler: busyReconciler{err: ErrReconcileInProgress}})

	_, err := admin.ReconcileNow(context.Background())
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if domainErr.HTTPStatus != http.StatusConflict {
		t.Errorf("expected 409, got %d", domainErr.HTTPStatus)
	}

	other := NewAdminService(AdminDependencies{Reconciler: busyReconciler{err: errStorage}})
	if _, err := other.ReconcileNow(context.Background()); !errors.Is(err, errStorage) {
		t.Errorf("expected other errors to pass through, got %v", err)
	}
}

func TestAdminApplicationsNewestFirst(t *testing.T) {
	store := newMemStore()
	store.apps = []domain.LoanApplication{{ID: "app-1"}, {ID: "app-2"}}
	admin := NewAdminService(AdminDependencies{ApplicationRepo: store})

	apps, err := admin.Applications(context.Background(), 10)
	if err != nil {
		t.Fatalf("applications: %v", err)
	}
	if len(apps) != 2 || apps[0].ID != "app-2" {
		t.Errorf("expected newest first, got %+v", apps)
	}

	if apps, err := NewAdminService(AdminDependencies{}).Applications(context.Background(), 10); err != nil || apps != nil {
		t.Errorf("expected no applications without a repository, got %v %v", apps, err)
	}
}
