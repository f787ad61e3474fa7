package repo

import (
	"context"
	"database/sql"

	"leboy/internal/domain"
)

const proofColumns = `id,mission_id,filename,content_type,size_bytes,url,uploaded_at`

func scanProof(sc rowScanner) (domain.Proof, error) {
	var p domain.Proof
	var contentType, url sql.NullString
	var size sql.NullInt64
	err := sc.Scan(&p.ID, &p.MissionID, &p.Filename, &contentType, &size, &url, &p.UploadedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if contentType.Valid {
		p.ContentType = contentType.String
	}
	if size.Valid {
		p.SizeBytes = size.Int64
	}
	if url.Valid {
		p.URL = url.String
	}
	return p, nil
}

func (r Repo) InsertProof(ctx context.Context, tx *sql.Tx, p domain.Proof) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proofs(`+proofColumns+`) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.MissionID, p.Filename, nullable(p.ContentType), nullableInt64(p.SizeBytes), nullable(p.URL), p.UploadedAt)
	return err
}

func (r Repo) ListProofs(ctx context.Context, missionID string) ([]domain.Proof, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+proofColumns+` FROM proofs WHERE mission_id=? ORDER BY uploaded_at ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountProofsTx(ctx context.Context, tx *sql.Tx, missionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM proofs WHERE mission_id=?`, missionID).Scan(&n)
	return n, err
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
