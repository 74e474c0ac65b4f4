package store

import (
	"context"
	"database/sql"
	"errors"
)

// SaveUserState mirrors the user's current teaching mode so it survives
// process restarts. Best-effort from the state machine's point of view.
func (s *Store) SaveUserState(ctx context.Context, userID, state string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO user_state (user_id, state) VALUES ($1,$2)
ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
`, userID, state)
	if isMissingTable(err) {
		return nil
	}
	return err
}

// LoadUserState reads the mirrored teaching mode.
func (s *Store) LoadUserState(ctx context.Context, userID string) (string, bool, error) {
	var state string
	err := s.DB.QueryRowContext(ctx, `
SELECT state FROM user_state WHERE user_id=$1
`, userID).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return state, true, nil
}
