package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestScanAttemptsJoinsExercises(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	cols := []string{"id", "user_id", "exercise_id", "is_correct", "created_at", "topic", "type", "difficulty", "answer_type"}
	mock.ExpectQuery("LEFT JOIN exercises").
		WithArgs("u1", int64(10), 80).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(11), "u1", int64(3), true, now, "frações", "mult_escolha", 2, "numeric").
			AddRow(int64(12), "u1", int64(0), false, now, "", "", 0, ""))

	rows, err := st.ScanAttempts(context.Background(), "u1", 10, 80)
	if err != nil {
		t.Fatalf("ScanAttempts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Topic != "frações" || rows[0].Difficulty != 2 {
		t.Fatalf("joined row = %+v", rows[0])
	}
	// attempts without a matching exercise still come back, bucket fields empty
	if rows[1].Topic != "" || rows[1].IsCorrect {
		t.Fatalf("orphan row = %+v", rows[1])
	}
}

func TestScanAttemptsMissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("LEFT JOIN exercises").
		WithArgs("u1", int64(0), 80).
		WillReturnError(&pq.Error{Code: "42P01"})

	rows, err := st.ScanAttempts(context.Background(), "u1", 0, 0)
	if err != nil || rows != nil {
		t.Fatalf("rows=%v err=%v, want nil/nil", rows, err)
	}
}

func TestInsertAttemptReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("INSERT INTO attempts").
		WithArgs("u1", int64(7), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := st.InsertAttempt(context.Background(), "u1", 7, false)
	if err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d", id)
	}
}

func TestListUsersWithAttemptsSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("SELECT DISTINCT user_id FROM attempts").
		WithArgs(sqlmock.AnyArg(), 500).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	users, err := st.ListUsersWithAttemptsSince(context.Background(), time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListUsersWithAttemptsSince: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" {
		t.Fatalf("users = %v", users)
	}
}

func TestSaveAndLoadUserState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectExec("INSERT INTO user_state").
		WithArgs("u1", "drill").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.SaveUserState(context.Background(), "u1", "drill"); err != nil {
		t.Fatalf("SaveUserState: %v", err)
	}

	mock.ExpectQuery("SELECT state FROM user_state").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("drill"))
	state, ok, err := st.LoadUserState(context.Background(), "u1")
	if err != nil || !ok || state != "drill" {
		t.Fatalf("LoadUserState = %q ok=%v err=%v", state, ok, err)
	}
}

func TestTableExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("ltm_memories").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	if !st.TableExists(context.Background(), "ltm_memories") {
		t.Fatal("existing table reported missing")
	}

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("exercises").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	if st.TableExists(context.Background(), "exercises") {
		t.Fatal("missing table reported present")
	}
}
