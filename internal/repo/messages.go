package repo

import (
	"context"
	"database/sql"
	"strings"

	"leboy/internal/domain"
)

const messageColumns = `seq,id,mission_id,from_role,to_role,from_email,to_email,content,type,lu,created_at`

func scanMessage(sc rowScanner) (domain.Message, error) {
	var m domain.Message
	var fromRole, toRole, msgType string
	var lu int
	err := sc.Scan(&m.Seq, &m.ID, &m.MissionID, &fromRole, &toRole, &m.FromEmail, &m.ToEmail, &m.Content, &msgType, &lu, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.From = domain.Role(fromRole)
	m.To = domain.Role(toRole)
	m.Type = domain.MessageType(msgType)
	m.Lu = lu != 0
	return m, nil
}

// InsertMessage appends a message and returns it with its sequence number.
// Messages are append-only; only the read flag ever changes afterwards.
func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) (domain.Message, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO messages(id,mission_id,from_role,to_role,from_email,to_email,content,type,lu,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.MissionID, string(m.From), string(m.To), m.FromEmail, m.ToEmail, m.Content, string(m.Type), boolToInt(m.Lu), m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.Seq, err = res.LastInsertId()
	return m, err
}

// ListMessages returns a mission's log in insertion order.
func (r Repo) ListMessages(ctx context.Context, missionID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE mission_id=? ORDER BY seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkMessagesRead flips the read flag on the given message IDs.
func (r Repo) MarkMessagesRead(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := tx.ExecContext(ctx, `UPDATE messages SET lu=1 WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

// CountUnread counts messages addressed to the given role that are unread.
func (r Repo) CountUnread(ctx context.Context, missionID string, to domain.Role) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE mission_id=? AND to_role=? AND lu=0`, missionID, string(to)).Scan(&n)
	return n, err
}
