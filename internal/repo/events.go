package repo

import (
	"context"
	"database/sql"

	"leboy/internal/domain"
)

const eventColumns = `id,ts,type,mission_id,actor_role,actor_email,payload_json`

func scanEvent(sc rowScanner) (domain.Event, error) {
	var e domain.Event
	var missionID sql.NullString
	err := sc.Scan(&e.ID, &e.TS, &e.Type, &missionID, &e.ActorRole, &e.ActorEmail, &e.Payload)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if missionID.Valid {
		e.MissionID = missionID.String
	}
	return e, nil
}

// EventsAfter returns up to limit events with id greater than afterID, oldest
// first. The webhook dispatcher polls with this.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// MissionEvents returns a mission's history oldest first.
func (r Repo) MissionEvents(ctx context.Context, missionID string, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE mission_id=? ORDER BY id ASC`
	args := []any{missionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
