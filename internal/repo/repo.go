package repo

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"leboy/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const missionColumns = `id,reference,client_email,provider_id,provider_email,category,title,description,internal_state,estimation_price,estimation_delay_hours,estimation_note,avance_percentage,delai_maximal_hours,date_limite_mission,solde_versee,date_assignation,date_acceptation,submission_comment,archived_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(sc rowScanner) (domain.Mission, error) {
	var m domain.Mission
	var providerID, providerEmail, description, estimationNote sql.NullString
	var estimationPrice, estimationDelay, delaiMaximal sql.NullInt64
	var dateLimite, dateAssignation, dateAcceptation, submissionComment, archivedAt sql.NullString
	var soldeVersee int
	var state string
	err := sc.Scan(&m.ID, &m.Reference, &m.ClientEmail, &providerID, &providerEmail, &m.Category, &m.Title, &description,
		&state, &estimationPrice, &estimationDelay, &estimationNote, &m.AvancePercentage, &delaiMaximal, &dateLimite,
		&soldeVersee, &dateAssignation, &dateAcceptation, &submissionComment, &archivedAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.InternalState = domain.State(state)
	m.SoldeVersee = soldeVersee != 0
	if providerID.Valid {
		m.ProviderID = &providerID.String
	}
	if providerEmail.Valid {
		m.ProviderEmail = &providerEmail.String
	}
	if description.Valid {
		m.Description = description.String
	}
	if estimationPrice.Valid {
		est := domain.Estimation{Price: estimationPrice.Int64}
		if estimationDelay.Valid {
			est.DelayHours = int(estimationDelay.Int64)
		}
		if estimationNote.Valid {
			est.Note = estimationNote.String
		}
		m.Estimation = &est
	}
	if delaiMaximal.Valid {
		v := int(delaiMaximal.Int64)
		m.DelaiMaximalHours = &v
	}
	if dateLimite.Valid {
		m.DateLimiteMission = &dateLimite.String
	}
	if dateAssignation.Valid {
		m.DateAssignation = &dateAssignation.String
	}
	if dateAcceptation.Valid {
		m.DateAcceptation = &dateAcceptation.String
	}
	if submissionComment.Valid {
		m.SubmissionComment = submissionComment.String
	}
	if archivedAt.Valid {
		m.ArchivedAt = &archivedAt.String
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Reference, m.ClientEmail, nullableStringPtr(m.ProviderID), nullableStringPtr(m.ProviderEmail), m.Category,
		m.Title, nullable(m.Description), string(m.InternalState),
		nullableEstimationPrice(m.Estimation), nullableEstimationDelay(m.Estimation), nullableEstimationNote(m.Estimation),
		m.AvancePercentage, nullableIntPtr(m.DelaiMaximalHours), nullableStringPtr(m.DateLimiteMission),
		boolToInt(m.SoldeVersee), nullableStringPtr(m.DateAssignation), nullableStringPtr(m.DateAcceptation),
		nullable(m.SubmissionComment), nullableStringPtr(m.ArchivedAt), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	m, err := scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
	if err != nil {
		return m, err
	}
	return r.loadSubcollections(ctx, m)
}

func (r Repo) GetMissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	return scanMission(tx.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
}

func (r Repo) loadSubcollections(ctx context.Context, m domain.Mission) (domain.Mission, error) {
	phases, err := r.ListPhases(ctx, m.ID)
	if err != nil {
		return m, err
	}
	m.Phases = phases
	proofs, err := r.ListProofs(ctx, m.ID)
	if err != nil {
		return m, err
	}
	m.Proofs = proofs
	return m, nil
}

type MissionFilters struct {
	State           string
	ProviderID      string
	ClientEmail     string
	ArchivedOnly    bool
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	switch {
	case f.ArchivedOnly:
		clauses = append(clauses, "archived_at IS NOT NULL")
	case !f.IncludeArchived:
		clauses = append(clauses, "archived_at IS NULL")
	}
	if f.State != "" {
		clauses = append(clauses, "internal_state=?")
		args = append(args, f.State)
	}
	if f.ProviderID != "" {
		clauses = append(clauses, "provider_id=?")
		args = append(args, f.ProviderID)
	}
	if f.ClientEmail != "" {
		clauses = append(clauses, "client_email=?")
		args = append(args, f.ClientEmail)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + missionColumns + ` FROM missions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MissionStateUpdate expresses one compare-and-swap transition: the SET
// fragments apply only when the row is still in one of the From states, so a
// concurrent writer holding a stale view loses cleanly instead of
// overwriting.
type MissionStateUpdate struct {
	ID        string
	From      []domain.State
	To        domain.State
	Set       map[string]any
	UpdatedAt string
}

// ApplyStateUpdate performs the conditional update and reports whether the
// precondition held at write time.
func (r Repo) ApplyStateUpdate(ctx context.Context, tx *sql.Tx, u MissionStateUpdate) (bool, error) {
	sets := []string{"internal_state=?", "updated_at=?"}
	args := []any{string(u.To), u.UpdatedAt}
	keys := make([]string, 0, len(u.Set))
	for k := range u.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sets = append(sets, k+"=?")
		args = append(args, u.Set[k])
	}
	args = append(args, u.ID)
	placeholders := make([]string, len(u.From))
	for i, s := range u.From {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	query := `UPDATE missions SET ` + strings.Join(sets, ", ") +
		` WHERE id=? AND archived_at IS NULL AND internal_state IN (` + strings.Join(placeholders, ",") + `)`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateMissionFields applies plain column updates without a state
// precondition (used for archive/restore and comment updates).
func (r Repo) UpdateMissionFields(ctx context.Context, tx *sql.Tx, id string, set map[string]any) error {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		sets = append(sets, k+"=?")
		args = append(args, set[k])
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, `UPDATE missions SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteMission(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM missions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountMissionsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT internal_state, count(*) FROM missions WHERE archived_at IS NULL GROUP BY internal_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableEstimationPrice(e *domain.Estimation) any {
	if e == nil {
		return nil
	}
	return e.Price
}

func nullableEstimationDelay(e *domain.Estimation) any {
	if e == nil {
		return nil
	}
	return e.DelayHours
}

func nullableEstimationNote(e *domain.Estimation) any {
	if e == nil {
		return nil
	}
	return nullable(e.Note)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
