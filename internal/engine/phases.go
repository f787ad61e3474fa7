package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leboy/internal/domain"
	"leboy/internal/events"
)

// PhaseCreateOptions are parameters for adding an execution phase.
type PhaseCreateOptions struct {
	Ordre       int
	Name        string
	Description string
}

// AddPhase appends a checklist phase to an in-progress mission. Ordre must be
// unique within the mission.
func (e Engine) AddPhase(ctx context.Context, missionID string, opts PhaseCreateOptions, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "add phase", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	if opts.Name == "" {
		return domain.Mission{}, errors.New("phase name is required")
	}
	if opts.Ordre <= 0 {
		return domain.Mission{}, errors.New("phase ordre must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := requireInProgress(m, "add phase"); err != nil {
		return domain.Mission{}, err
	}
	existing, err := e.Repo.ListPhasesTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	for _, p := range existing {
		if p.Ordre == opts.Ordre {
			return domain.Mission{}, fmt.Errorf("phase ordre %d already used by %q", opts.Ordre, p.Name)
		}
	}
	p := domain.ExecutionPhase{
		ID:          uuid.New().String(),
		MissionID:   missionID,
		Ordre:       opts.Ordre,
		Name:        opts.Name,
		Description: opts.Description,
		CreatedAt:   e.nowStr(),
	}
	if err := e.Repo.InsertPhase(ctx, tx, p); err != nil {
		return domain.Mission{}, fmt.Errorf("insert phase: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "phase.added", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"phase_id": p.ID,
		"ordre":    p.Ordre,
		"name":     p.Name,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// DeletePhase removes a phase from an in-progress mission.
func (e Engine) DeletePhase(ctx context.Context, missionID, phaseID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "delete phase", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := requireInProgress(m, "delete phase"); err != nil {
		return domain.Mission{}, err
	}
	p, err := e.Repo.GetPhaseTx(ctx, tx, phaseID)
	if err != nil {
		return domain.Mission{}, err
	}
	if p.MissionID != missionID {
		return domain.Mission{}, fmt.Errorf("phase %s not in mission %s", phaseID, missionID)
	}
	if err := e.Repo.DeletePhase(ctx, tx, phaseID); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "phase.deleted", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"phase_id": phaseID,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// TogglePhase flips a phase's completion. Completing enforces the sequential
// gate (every lower-ordered phase already completed); un-completing is always
// allowed so the provider can correct mistakes.
func (e Engine) TogglePhase(ctx context.Context, missionID, phaseID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "toggle phase", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := requireInProgress(m, "toggle phase"); err != nil {
		return domain.Mission{}, err
	}
	phases, err := e.Repo.ListPhasesTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	var target *domain.ExecutionPhase
	for i := range phases {
		if phases[i].ID == phaseID {
			target = &phases[i]
			break
		}
	}
	if target == nil {
		return domain.Mission{}, fmt.Errorf("phase %s not in mission %s", phaseID, missionID)
	}
	completing := !target.Completed
	if completing {
		for _, p := range phases {
			if p.Ordre < target.Ordre && !p.Completed {
				return domain.Mission{}, PhasePrecedingIncompleteError{PhaseName: p.Name, Ordre: p.Ordre}
			}
		}
	}
	var completedAt *string
	if completing {
		ts := e.nowStr()
		completedAt = &ts
	}
	if err := e.Repo.SetPhaseCompletion(ctx, tx, phaseID, completing, completedAt); err != nil {
		return domain.Mission{}, err
	}
	evtType := "phase.completed"
	if !completing {
		evtType = "phase.reopened"
	}
	if err := e.Events.Append(ctx, tx, evtType, missionID, string(actor.Role), actor.Email, events.EventPayload{
		"phase_id": phaseID,
		"ordre":    target.Ordre,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// FlagPhaseRetard sets the externally determined delay flag on a phase.
func (e Engine) FlagPhaseRetard(ctx context.Context, missionID, phaseID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "flag phase delay"); err != nil {
		return domain.Mission{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPhaseTx(ctx, tx, phaseID)
	if err != nil {
		return domain.Mission{}, err
	}
	if p.MissionID != missionID {
		return domain.Mission{}, fmt.Errorf("phase %s not in mission %s", phaseID, missionID)
	}
	if !p.Retard {
		if err := e.Repo.SetPhaseRetard(ctx, tx, phaseID, true); err != nil {
			return domain.Mission{}, err
		}
		if err := e.Events.Append(ctx, tx, "phase.delayed", missionID, string(actor.Role), actor.Email, events.EventPayload{
			"phase_id": phaseID,
		}); err != nil {
			return domain.Mission{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// MarkPhaseDelayed attaches the delay note to a phase already flagged as
// delayed. A second call with a note already present is a no-op.
func (e Engine) MarkPhaseDelayed(ctx context.Context, missionID, phaseID, note string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "annotate phase delay", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	if note == "" {
		return domain.Mission{}, errors.New("delay note is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPhaseTx(ctx, tx, phaseID)
	if err != nil {
		return domain.Mission{}, err
	}
	if p.MissionID != missionID {
		return domain.Mission{}, fmt.Errorf("phase %s not in mission %s", phaseID, missionID)
	}
	if !p.Retard {
		return domain.Mission{}, fmt.Errorf("phase %s is not flagged as delayed", phaseID)
	}
	if p.NoteRetard == "" {
		if err := e.Repo.SetPhaseNoteRetard(ctx, tx, phaseID, note); err != nil {
			return domain.Mission{}, err
		}
		if err := e.Events.Append(ctx, tx, "phase.delay_annotated", missionID, string(actor.Role), actor.Email, events.EventPayload{
			"phase_id": phaseID,
		}); err != nil {
			return domain.Mission{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// ProofOptions are metadata for an uploaded proof; upload mechanics live at
// the boundary.
type ProofOptions struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	URL         string
}

// AddProof attaches evidence metadata to an in-progress mission.
func (e Engine) AddProof(ctx context.Context, missionID string, opts ProofOptions, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "add proof", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	if opts.Filename == "" {
		return domain.Mission{}, errors.New("proof filename is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMissionTx(ctx, tx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := requireInProgress(m, "add proof"); err != nil {
		return domain.Mission{}, err
	}
	p := domain.Proof{
		ID:          uuid.New().String(),
		MissionID:   missionID,
		Filename:    opts.Filename,
		ContentType: opts.ContentType,
		SizeBytes:   opts.SizeBytes,
		URL:         opts.URL,
		UploadedAt:  e.nowStr(),
	}
	if err := e.Repo.InsertProof(ctx, tx, p); err != nil {
		return domain.Mission{}, fmt.Errorf("insert proof: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "proof.added", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"proof_id": p.ID,
		"filename": p.Filename,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

func requireInProgress(m domain.Mission, op string) error {
	if m.Archived() {
		return MissionArchivedError{MissionID: m.ID}
	}
	if m.InternalState != domain.StateInProgress {
		return InvalidStateTransitionError{MissionID: m.ID, From: m.InternalState, Operation: op}
	}
	return nil
}
