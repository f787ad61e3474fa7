package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leboy/internal/commission"
	"leboy/internal/config"
	"leboy/internal/domain"
	"leboy/internal/events"
	"leboy/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// Actor identifies the caller of an engine operation. Role decides
// authorization; email is recorded on events and messages.
type Actor struct {
	Role  domain.Role
	Email string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// requireRole allows admin unconditionally plus the listed roles.
func requireRole(actor Actor, op string, roles ...domain.Role) error {
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return UnauthorizedRoleError{Role: actor.Role, Operation: op}
}

// newReference derives a human-readable mission reference.
func (e Engine) newReference(id string) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 6 {
		short = short[:6]
	}
	return fmt.Sprintf("LB-%s-%s", e.now().UTC().Format("20060102"), short)
}

// transition applies one compare-and-swap state update. When the write
// misses, the stored row is re-read to produce a precise rejection.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, op string, u repo.MissionStateUpdate) error {
	ok, err := e.Repo.ApplyStateUpdate(ctx, tx, u)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	m, err := e.Repo.GetMissionTx(ctx, tx, u.ID)
	if err != nil {
		return err
	}
	if m.Archived() {
		return MissionArchivedError{MissionID: m.ID}
	}
	return InvalidStateTransitionError{MissionID: m.ID, From: m.InternalState, Operation: op}
}

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	ID          string
	ClientEmail string
	Category    string
	Title       string
	Description string
}

func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions, actor Actor) (domain.Mission, error) {
	if e.Config == nil {
		return domain.Mission{}, errors.New("config not loaded")
	}
	if err := requireRole(actor, "create mission", domain.RoleClient); err != nil {
		return domain.Mission{}, err
	}
	if opts.Title == "" {
		return domain.Mission{}, errors.New("title is required")
	}
	if opts.ClientEmail == "" {
		return domain.Mission{}, errors.New("client email is required")
	}
	if opts.Category == "" {
		opts.Category = e.Config.Commission.DefaultCategory
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	m := domain.Mission{
		ID:            id,
		Reference:     e.newReference(id),
		ClientEmail:   opts.ClientEmail,
		Category:      opts.Category,
		Title:         opts.Title,
		Description:   opts.Description,
		InternalState: domain.StateCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "mission.created", m.ID, string(actor.Role), actor.Email, events.EventPayload{
		"reference": m.Reference,
		"category":  m.Category,
		"title":     m.Title,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// AssignProvider moves a fresh mission to the selected provider.
func (e Engine) AssignProvider(ctx context.Context, missionID, providerID, providerEmail string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "assign provider"); err != nil {
		return domain.Mission{}, err
	}
	if providerID == "" {
		return domain.Mission{}, errors.New("provider id is required")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	set := map[string]any{
		"provider_id":      providerID,
		"date_assignation": now,
	}
	if providerEmail != "" {
		set["provider_email"] = providerEmail
	}
	if err := e.transition(ctx, tx, "assign provider", repo.MissionStateUpdate{
		ID:        missionID,
		From:      []domain.State{domain.StateCreated},
		To:        domain.StateAssignedToProvider,
		Set:       set,
		UpdatedAt: now,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.assigned", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"provider_id": providerID,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// EstimationOptions are the provider's proposed terms. DelaiMaximalHours is
// the declared maximum execution window; the concrete deadline is derived at
// take-over time.
type EstimationOptions struct {
	Price             int64
	DelayHours        int
	Note              string
	DelaiMaximalHours int
}

// SubmitEstimation stores or overwrites the provider's estimation. Revision
// from PROVIDER_ESTIMATED is the only legal loop in the lifecycle.
func (e Engine) SubmitEstimation(ctx context.Context, missionID string, opts EstimationOptions, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "submit estimation", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	if opts.Price <= 0 {
		return domain.Mission{}, errors.New("estimation price must be positive")
	}
	if opts.DelayHours <= 0 {
		return domain.Mission{}, errors.New("estimation delay must be positive")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	set := map[string]any{
		"estimation_price":       opts.Price,
		"estimation_delay_hours": opts.DelayHours,
		"estimation_note":        nullable(opts.Note),
	}
	if opts.DelaiMaximalHours > 0 {
		set["delai_maximal_hours"] = opts.DelaiMaximalHours
	}
	if err := e.transition(ctx, tx, "submit estimation", repo.MissionStateUpdate{
		ID:        missionID,
		From:      []domain.State{domain.StateAssignedToProvider, domain.StateProviderEstimated},
		To:        domain.StateProviderEstimated,
		Set:       set,
		UpdatedAt: now,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.estimated", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"price":       opts.Price,
		"delay_hours": opts.DelayHours,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// RequestClientPayment records the admin's acceptance of the estimation and
// asks the client to pay.
func (e Engine) RequestClientPayment(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "request client payment"); err != nil {
		return domain.Mission{}, err
	}
	return e.simpleTransition(ctx, missionID, actor, "request client payment", "mission.payment_requested",
		[]domain.State{domain.StateProviderEstimated}, domain.StateWaitingClientPayment, nil)
}

// ConfirmPayment records the externally observed client payment.
func (e Engine) ConfirmPayment(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "confirm payment"); err != nil {
		return domain.Mission{}, err
	}
	return e.simpleTransition(ctx, missionID, actor, "confirm payment", "mission.paid",
		[]domain.State{domain.StateWaitingClientPayment}, domain.StatePaidWaitingTakeover, nil)
}

// SendAdvance records the advance transfer to the provider. The percentage
// must be one of the configured options.
func (e Engine) SendAdvance(ctx context.Context, missionID string, percentage int, actor Actor) (domain.Mission, error) {
	if e.Config == nil {
		return domain.Mission{}, errors.New("config not loaded")
	}
	if err := requireRole(actor, "send advance"); err != nil {
		return domain.Mission{}, err
	}
	if !e.Config.AdvanceAllowed(percentage) {
		return domain.Mission{}, fmt.Errorf("advance percentage %d not allowed (options: %v)", percentage, e.Config.Advance.AllowedPercentages)
	}
	return e.simpleTransition(ctx, missionID, actor, "send advance", "mission.advance_sent",
		[]domain.State{domain.StatePaidWaitingTakeover}, domain.StateAdvanceSent,
		map[string]any{"avance_percentage": percentage})
}

// TakeOverMission marks the provider's acceptance and start of work. When a
// maximum execution window was declared the deadline is derived here.
func (e Engine) TakeOverMission(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "take over mission", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	now := e.now().UTC()
	set := map[string]any{"date_acceptation": now.Format(time.RFC3339)}
	if m.DelaiMaximalHours != nil {
		set["date_limite_mission"] = now.Add(time.Duration(*m.DelaiMaximalHours) * time.Hour).Format(time.RFC3339)
	}
	return e.simpleTransition(ctx, missionID, actor, "take over mission", "mission.taken_over",
		[]domain.State{domain.StateAdvanceSent}, domain.StateInProgress, set)
}

// SubmitProofsForValidation moves an in-progress mission to validation. At
// least one uploaded proof is required; phase completion is advisory only.
func (e Engine) SubmitProofsForValidation(ctx context.Context, missionID, comment string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "submit proofs", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountProofsTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if n == 0 {
		return domain.Mission{}, ErrProofsRequired
	}
	if err := e.transition(ctx, tx, "submit proofs", repo.MissionStateUpdate{
		ID:        missionID,
		From:      []domain.State{domain.StateInProgress},
		To:        domain.StateProviderValidationSubmitted,
		Set:       map[string]any{"submission_comment": nullable(comment)},
		UpdatedAt: now,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.validation_submitted", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"proofs": n,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// ConfirmCompletion is the admin's validation of the submitted proofs.
// soldePaid records whether the final balance went out with the validation.
func (e Engine) ConfirmCompletion(ctx context.Context, missionID string, soldePaid bool, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "confirm completion"); err != nil {
		return domain.Mission{}, err
	}
	var set map[string]any
	if soldePaid {
		set = map[string]any{"solde_versee": 1}
	}
	return e.simpleTransition(ctx, missionID, actor, "confirm completion", "mission.admin_confirmed",
		[]domain.State{domain.StateProviderValidationSubmitted}, domain.StateAdminConfirmed, set)
}

// MarkBalancePaid flags the final balance transfer on a confirmed mission.
func (e Engine) MarkBalancePaid(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "mark balance paid"); err != nil {
		return domain.Mission{}, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.InternalState != domain.StateAdminConfirmed {
		return domain.Mission{}, InvalidStateTransitionError{MissionID: missionID, From: m.InternalState, Operation: "mark balance paid"}
	}
	if err := e.Repo.UpdateMissionFields(ctx, tx, missionID, map[string]any{"solde_versee": 1, "updated_at": now}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.balance_paid", missionID, string(actor.Role), actor.Email, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// CloseMission terminates a confirmed mission once the balance is fully paid.
func (e Engine) CloseMission(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "close mission"); err != nil {
		return domain.Mission{}, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.InternalState == domain.StateAdminConfirmed && !m.SoldeVersee {
		return domain.Mission{}, ErrBalanceNotPaid
	}
	if err := e.transition(ctx, tx, "close mission", repo.MissionStateUpdate{
		ID:        missionID,
		From:      []domain.State{domain.StateAdminConfirmed},
		To:        domain.StateCompleted,
		UpdatedAt: now,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.completed", missionID, string(actor.Role), actor.Email, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// simpleTransition handles the transitions whose only work is the CAS state
// write plus optional column effects and an event.
func (e Engine) simpleTransition(ctx context.Context, missionID string, actor Actor, op, evtType string, from []domain.State, to domain.State, set map[string]any) (domain.Mission, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.transition(ctx, tx, op, repo.MissionStateUpdate{
		ID:        missionID,
		From:      from,
		To:        to,
		Set:       set,
		UpdatedAt: now,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, missionID, string(actor.Role), actor.Email, events.EventPayload{
		"to_state": string(to),
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// GetMission returns a mission with its phases and proofs loaded.
func (e Engine) GetMission(ctx context.Context, missionID string) (domain.Mission, error) {
	return e.Repo.GetMission(ctx, missionID)
}

func (e Engine) ListMissions(ctx context.Context, f repo.MissionFilters) ([]domain.Mission, error) {
	return e.Repo.ListMissions(ctx, f)
}

// CommissionQuote computes the commission owed on a price in the given
// category. Unknown or disabled categories fall back to the default.
func (e Engine) CommissionQuote(ctx context.Context, category string, price int64) (int64, domain.CommissionConfig, error) {
	if e.Config == nil {
		return 0, domain.CommissionConfig{}, errors.New("config not loaded")
	}
	cfg, err := e.Repo.GetCommissionConfig(ctx, category)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !cfg.Enabled) {
		cfg, err = e.Repo.GetCommissionConfig(ctx, e.Config.Commission.DefaultCategory)
	}
	if err != nil {
		return 0, domain.CommissionConfig{}, err
	}
	amount, err := commission.Compute(cfg, price)
	if err != nil {
		return 0, cfg, err
	}
	return amount, cfg, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
