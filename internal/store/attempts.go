package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AttemptRecord is one exercise attempt joined with exercise metadata when
// available. This subsystem only reads attempts; the exercise product owns
// the writes.
type AttemptRecord struct {
	ID         int64
	UserID     string
	ExerciseID int64
	IsCorrect  bool
	CreatedAt  time.Time
	Topic      string
	Type       string
	Difficulty int
	AnswerType string
}

// ExerciseRecord is the slice of an exercise the recommender needs.
type ExerciseRecord struct {
	ID         int64
	Topic      string
	Type       string
	Difficulty int
	AnswerType string
	Question   string
}

// ScanAttempts returns the user's attempts with id > afterID in ascending
// id order, joined with exercises for topic/type/difficulty. The join is
// optional: missing exercise rows leave the bucket fields empty.
func (s *Store) ScanAttempts(ctx context.Context, userID string, afterID int64, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 80
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT a.id, a.user_id, a.exercise_id, a.is_correct, a.created_at,
       COALESCE(e.topic,''), COALESCE(e.type,''), COALESCE(e.difficulty,0), COALESCE(e.answer_type,'')
FROM attempts a
LEFT JOIN exercises e ON e.id = a.exercise_id
WHERE a.user_id=$1 AND a.id > $2
ORDER BY a.id ASC
LIMIT $3
`, userID, afterID, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExerciseID, &rec.IsCorrect, &rec.CreatedAt,
			&rec.Topic, &rec.Type, &rec.Difficulty, &rec.AnswerType); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListUsersWithAttemptsSince returns the ids of users who attempted at
// least one exercise at or after the cutoff. The consolidation scheduler
// sweeps exactly this set.
func (s *Store) ListUsersWithAttemptsSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT user_id FROM attempts WHERE created_at >= $1 LIMIT $2
`, since, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecentAttemptResults returns the correctness of the user's last N
// attempts, newest first.
func (s *Store) RecentAttemptResults(ctx context.Context, userID string, limit int) ([]bool, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT is_correct FROM attempts WHERE user_id=$1 ORDER BY id DESC LIMIT $2
`, userID, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []bool
	for rows.Next() {
		var ok bool
		if err := rows.Scan(&ok); err != nil {
			return nil, err
		}
		out = append(out, ok)
	}
	return out, rows.Err()
}

// InsertAttempt records an attempt. Exposed so the HTTP layer can feed the
// consolidation scan; the attempt id drives the checkpoint cursor.
func (s *Store) InsertAttempt(ctx context.Context, userID string, exerciseID int64, isCorrect bool) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO attempts (user_id, exercise_id, is_correct) VALUES ($1,$2,$3) RETURNING id
`, userID, exerciseID, isCorrect).Scan(&id)
	return id, err
}

// FindExercise picks a random exercise whose topic or type matches bucket
// within a difficulty band.
func (s *Store) FindExercise(ctx context.Context, bucket string, minDiff, maxDiff int) (ExerciseRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, COALESCE(topic,''), COALESCE(type,''), COALESCE(difficulty,0), COALESCE(answer_type,''), COALESCE(question,'')
FROM exercises
WHERE (LOWER(type) = LOWER($1) OR LOWER(topic) = LOWER($1))
  AND difficulty BETWEEN $2 AND $3
ORDER BY random()
LIMIT 1
`, bucket, minDiff, maxDiff)
	return scanExerciseRow(row)
}

// FindExerciseAnyDifficulty is the band-less fallback.
func (s *Store) FindExerciseAnyDifficulty(ctx context.Context, bucket string) (ExerciseRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, COALESCE(topic,''), COALESCE(type,''), COALESCE(difficulty,0), COALESCE(answer_type,''), COALESCE(question,'')
FROM exercises
WHERE (LOWER(type) = LOWER($1) OR LOWER(topic) = LOWER($1))
ORDER BY random()
LIMIT 1
`, bucket)
	return scanExerciseRow(row)
}

func scanExerciseRow(row rowScanner) (ExerciseRecord, bool, error) {
	var rec ExerciseRecord
	err := row.Scan(&rec.ID, &rec.Topic, &rec.Type, &rec.Difficulty, &rec.AnswerType, &rec.Question)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return ExerciseRecord{}, false, nil
		}
		return ExerciseRecord{}, false, err
	}
	return rec, true, nil
}
