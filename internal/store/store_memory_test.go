package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestUpsertMemoryKeepsMaxConfidence(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
INSERT INTO ltm_memories (user_id, mem_type, mem_key, value_json, confidence, recurrence_count, source, status, last_confirmed_at)
VALUES ($1,$2,$3,$4,$5,1,$6,'active',NOW())
ON CONFLICT (user_id, mem_type, mem_key) DO UPDATE SET
  value_json = EXCLUDED.value_json,
  confidence = LEAST(1.0, GREATEST(ltm_memories.confidence, EXCLUDED.confidence)),
  recurrence_count = ltm_memories.recurrence_count + 1,
  source = EXCLUDED.source,
  status = 'active',
  last_confirmed_at = NOW()
RETURNING id, confidence, recurrence_count, status, last_confirmed_at, created_at
`)
	now := time.Now()
	// the database already held the row at 0.92, so the write at 0.80 keeps 0.92
	mock.ExpectQuery(query).
		WithArgs("u1", "profile", "profile.name", []byte(`{"name":"ana"}`), 0.80, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "confidence", "recurrence_count", "status", "last_confirmed_at", "created_at"}).
			AddRow(int64(3), 0.92, 2, "active", now, now))

	rec, err := st.UpsertMemory(context.Background(), MemoryRecord{
		UserID:     "u1",
		MemType:    "profile",
		MemKey:     "profile.name",
		Value:      json.RawMessage(`{"name":"ana"}`),
		Confidence: 0.80,
		Source:     "chat",
	})
	if err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}
	if rec.ID != 3 || rec.Confidence != 0.92 || rec.RecurrenceCount != 2 {
		t.Fatalf("rec = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertMemoryValidatesKeys(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	if _, err := st.UpsertMemory(context.Background(), MemoryRecord{MemType: "profile", MemKey: "k"}); err == nil {
		t.Fatal("missing user id accepted")
	}
	if _, err := st.UpsertMemory(context.Background(), MemoryRecord{UserID: "u1", MemKey: "k"}); err == nil {
		t.Fatal("missing mem_type accepted")
	}
}

func TestPutMemoryOverwritesConfidence(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`confidence = EXCLUDED.confidence,`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs("u1", MemTypeSkill, "skill:fracoes", sqlmock.AnyArg(), 0.61, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "confidence", "recurrence_count", "status", "last_confirmed_at", "created_at"}).
			AddRow(int64(9), 0.61, 4, "active", now, now))

	rec, err := st.PutMemory(context.Background(), MemoryRecord{
		UserID:     "u1",
		MemType:    MemTypeSkill,
		MemKey:     "skill:fracoes",
		Value:      json.RawMessage(`{"label":"fraco"}`),
		Confidence: 0.61,
	})
	if err != nil {
		t.Fatalf("PutMemory: %v", err)
	}
	if rec.Confidence != 0.61 {
		t.Fatalf("confidence = %v, want the explicit 0.61", rec.Confidence)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMemoryMissingTableDegrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("SELECT id, user_id, mem_type").
		WithArgs("u1", MemTypePrefs, "pref:nivel").
		WillReturnError(&pq.Error{Code: "42P01"})

	_, ok, err := st.GetMemory(context.Background(), "u1", MemTypePrefs, "pref:nivel")
	if err != nil {
		t.Fatalf("missing table should read as absent, got %v", err)
	}
	if ok {
		t.Fatal("row reported present")
	}
}

func TestListMemoriesByPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	cols := []string{"id", "user_id", "mem_type", "mem_key", "value_json", "confidence", "recurrence_count", "source", "status", "last_confirmed_at", "created_at"}
	mock.ExpectQuery("FROM ltm_memories").
		WithArgs("u1", "skill:%", 50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "u1", MemTypeSkill, "skill:fracoes", []byte(`{"label":"medio"}`), 0.7, 3, "consolidation", "active", now, now).
			AddRow(int64(2), "u1", MemTypeSkill, "skill:derivadas", []byte(`{"label":"forte"}`), 0.9, 5, "consolidation", "active", now, now))

	rows, err := st.ListMemoriesByPrefix(context.Background(), "u1", "skill:", "confidence", 50)
	if err != nil {
		t.Fatalf("ListMemoriesByPrefix: %v", err)
	}
	if len(rows) != 2 || rows[0].MemKey != "skill:fracoes" {
		t.Fatalf("rows = %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
