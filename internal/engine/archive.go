package engine

import (
	"context"
	"time"

	"leboy/internal/domain"
	"leboy/internal/repo"
)

// ArchiveMission soft-deletes a mission. Archived missions drop out of
// active lists and stay restorable until the retention window closes.
func (e Engine) ArchiveMission(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "archive mission", domain.RolePrestataire); err != nil {
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
	if m.Archived() {
		return domain.Mission{}, MissionArchivedError{MissionID: missionID}
	}
	if err := e.Repo.UpdateMissionFields(ctx, tx, missionID, map[string]any{"archived_at": now, "updated_at": now}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.archived", missionID, string(actor.Role), actor.Email, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// RestoreMission un-archives a mission while the retention window is open.
func (e Engine) RestoreMission(ctx context.Context, missionID string, actor Actor) (domain.Mission, error) {
	if err := requireRole(actor, "restore mission", domain.RolePrestataire); err != nil {
		return domain.Mission{}, err
	}
	days := 30
	if e.Config != nil && e.Config.Retention.ArchiveDays > 0 {
		days = e.Config.Retention.ArchiveDays
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
	if !m.Archived() {
		return e.Repo.GetMission(ctx, missionID)
	}
	archivedAt, err := time.Parse(time.RFC3339, *m.ArchivedAt)
	if err == nil && e.now().UTC().After(archivedAt.Add(time.Duration(days)*24*time.Hour)) {
		return domain.Mission{}, RetentionExpiredError{MissionID: missionID, ArchivedAt: *m.ArchivedAt, Days: days}
	}
	if err := e.Repo.UpdateMissionFields(ctx, tx, missionID, map[string]any{"archived_at": nil, "updated_at": now}); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.restored", missionID, string(actor.Role), actor.Email, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, missionID)
}

// DeleteMission permanently removes a mission and its sub-collections.
func (e Engine) DeleteMission(ctx context.Context, missionID string, actor Actor) error {
	if err := requireRole(actor, "delete mission"); err != nil {
		return err
	}
	return e.Repo.DeleteMission(ctx, missionID)
}

// PurgeExpiredArchives hard-deletes missions archived longer than the
// retention window. Returns the number of missions removed.
func (e Engine) PurgeExpiredArchives(ctx context.Context, actor Actor) (int, error) {
	if err := requireRole(actor, "purge archives"); err != nil {
		return 0, err
	}
	days := 30
	if e.Config != nil && e.Config.Retention.ArchiveDays > 0 {
		days = e.Config.Retention.ArchiveDays
	}
	cutoff := e.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	archived, err := e.Repo.ListMissions(ctx, repo.MissionFilters{ArchivedOnly: true})
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, m := range archived {
		if m.ArchivedAt == nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, *m.ArchivedAt)
		if err != nil || !at.Before(cutoff) {
			continue
		}
		if err := e.Repo.DeleteMission(ctx, m.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
