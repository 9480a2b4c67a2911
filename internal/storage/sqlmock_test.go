package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/primehq/prime/pkg/models"
)

// newMockStore builds a Store over sqlmock, consuming the migration
// statements so tests only declare expectations for their own queries.
func newMockStore(t *testing.T, opts ...func(sqlmock.Sqlmock)) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for range schema {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	store, err := NewWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, opt := range opts {
		opt(mock)
	}
	return store, mock
}

func TestPingSurfacesDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateTaskZeroRowsIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 0))

	task := &models.Task{ID: "missing", Status: models.TaskFailed, UpdatedAt: time.Now()}
	if err := store.UpdateTask(context.Background(), task); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTasksQueryErrorIsWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM tasks").WillReturnError(errors.New("disk I/O error"))

	if _, err := store.ListTasks(context.Background(), "org-1", 10); err == nil {
		t.Fatal("expected query error to surface")
	}
}

func TestCreateTaskSendsAllColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("t1", "org-1", "reindex", `{"kb":"kb-1"}`, "queued", 0, "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.Task{
		ID: "t1", OrgID: "org-1", Kind: "reindex",
		Params: map[string]any{"kb": "kb-1"}, Status: models.TaskQueued,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
