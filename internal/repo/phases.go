package repo

import (
	"context"
	"database/sql"

	"leboy/internal/domain"
)

const phaseColumns = `id,mission_id,ordre,name,description,completed,completed_at,retard,note_retard,created_at`

func scanPhase(sc rowScanner) (domain.ExecutionPhase, error) {
	var p domain.ExecutionPhase
	var description, completedAt, noteRetard sql.NullString
	var completed, retard int
	err := sc.Scan(&p.ID, &p.MissionID, &p.Ordre, &p.Name, &description, &completed, &completedAt, &retard, &noteRetard, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Completed = completed != 0
	p.Retard = retard != 0
	if description.Valid {
		p.Description = description.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	if noteRetard.Valid {
		p.NoteRetard = noteRetard.String
	}
	return p, nil
}

func (r Repo) InsertPhase(ctx context.Context, tx *sql.Tx, p domain.ExecutionPhase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO phases(`+phaseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.MissionID, p.Ordre, p.Name, nullable(p.Description), boolToInt(p.Completed),
		nullableStringPtr(p.CompletedAt), boolToInt(p.Retard), nullable(p.NoteRetard), p.CreatedAt)
	return err
}

func (r Repo) GetPhaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.ExecutionPhase, error) {
	return scanPhase(tx.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=?`, id))
}

// ListPhases returns a mission's phases ordered by ordre ascending. Ordre is
// unique per mission so the sort is total; id breaks ties defensively for
// rows predating the constraint.
func (r Repo) ListPhases(ctx context.Context, missionID string) ([]domain.ExecutionPhase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE mission_id=? ORDER BY ordre ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionPhase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListPhasesTx(ctx context.Context, tx *sql.Tx, missionID string) ([]domain.ExecutionPhase, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE mission_id=? ORDER BY ordre ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionPhase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetPhaseCompletion(ctx context.Context, tx *sql.Tx, id string, completed bool, completedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE phases SET completed=?, completed_at=? WHERE id=?`,
		boolToInt(completed), nullableStringPtr(completedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPhaseRetard(ctx context.Context, tx *sql.Tx, id string, retard bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE phases SET retard=? WHERE id=?`, boolToInt(retard), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPhaseNoteRetard(ctx context.Context, tx *sql.Tx, id, note string) error {
	res, err := tx.ExecContext(ctx, `UPDATE phases SET note_retard=? WHERE id=?`, nullable(note), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePhase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM phases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
