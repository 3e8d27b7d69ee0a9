package data

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	stateQueries = map[string]string{
		"photos":          "SELECT COUNT(*) FROM photo",
		"owners":          "SELECT COUNT(DISTINCT owner) FROM photo",
		"profile_photos":  "SELECT COUNT(*) FROM photo WHERE kind = 'profile'",
		"message_photos":  "SELECT COUNT(*) FROM photo WHERE kind = 'message'",
		"pending_photos":  "SELECT COUNT(*) FROM photo WHERE moderation_status = 'pending'",
		"flagged_photos":  "SELECT COUNT(*) FROM photo WHERE moderation_status = 'flagged'",
		"schema_versions": "SELECT COALESCE(MAX(version), 0) FROM schema_version",
	}
)

// GetDataState returns the current state of the database.
func GetDataState(db *sql.DB) (map[string]int64, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64)
	for k, v := range stateQueries {
		stmt, err := db.Prepare(v)
		if err != nil {
			return nil, fmt.Errorf("preparing %s statement: %w", k, err)
		}

		count, err := getCount(stmt)
		stmt.Close()
		if err != nil {
			return nil, fmt.Errorf("getting %s count: %w", k, err)
		}
		state[k] = count
	}

	return state, nil
}

func getCount(stmt *sql.Stmt) (int64, error) {
	var count int64
	if err := stmt.QueryRow().Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scanning row: %w", err)
	}

	return count, nil
}
