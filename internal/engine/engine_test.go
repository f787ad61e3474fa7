package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leboy/internal/app"
	"leboy/internal/config"
	"leboy/internal/db"
	"leboy/internal/domain"
	"leboy/internal/engine"
	"leboy/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var (
	asClient   = engine.Actor{Role: domain.RoleClient, Email: "client@example.com"}
	asProvider = engine.Actor{Role: domain.RolePrestataire, Email: "presta@example.cm"}
	asAdmin    = engine.Actor{Role: domain.RoleAdmin, Email: "ops@leboy.app"}
)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := app.SeedCommissionConfigs(ctx, eng.Repo, cfg, "2025-06-01T00:00:00Z"); err != nil {
		t.Fatalf("seed commission configs: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createMission(t *testing.T, env testEnv) domain.Mission {
	t.Helper()
	m, err := env.Engine.CreateMission(env.Ctx, engine.MissionCreateOptions{
		ClientEmail: asClient.Email,
		Category:    "demarches",
		Title:       "Renouvellement de passeport",
	}, asClient)
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return m
}

// toInProgress walks a fresh mission to IN_PROGRESS through the happy path.
func toInProgress(t *testing.T, env testEnv, id string) domain.Mission {
	t.Helper()
	if _, err := env.Engine.AssignProvider(env.Ctx, id, "presta-1", asProvider.Email, asAdmin); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitEstimation(env.Ctx, id, engine.EstimationOptions{Price: 200000, DelayHours: 72}, asProvider); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if _, err := env.Engine.RequestClientPayment(env.Ctx, id, asAdmin); err != nil {
		t.Fatalf("request payment: %v", err)
	}
	if _, err := env.Engine.ConfirmPayment(env.Ctx, id, asAdmin); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if _, err := env.Engine.SendAdvance(env.Ctx, id, 50, asAdmin); err != nil {
		t.Fatalf("advance: %v", err)
	}
	m, err := env.Engine.TakeOverMission(env.Ctx, id, asProvider)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	return m
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if m.InternalState != domain.StateCreated {
		t.Fatalf("expected CREATED, got %s", m.InternalState)
	}
	lastProgress := m.InternalState.Progress()

	check := func(m domain.Mission, want domain.State) {
		t.Helper()
		if m.InternalState != want {
			t.Fatalf("expected %s, got %s", want, m.InternalState)
		}
		if p := m.InternalState.Progress(); p <= lastProgress {
			t.Fatalf("progress did not increase: %d -> %d", lastProgress, p)
		}
		lastProgress = m.InternalState.Progress()
	}

	m, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", asProvider.Email, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateAssignedToProvider)

	m, err = env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 200000, DelayHours: 72, DelaiMaximalHours: 96}, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateProviderEstimated)

	m, err = env.Engine.RequestClientPayment(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateWaitingClientPayment)

	m, err = env.Engine.ConfirmPayment(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StatePaidWaitingTakeover)

	m, err = env.Engine.SendAdvance(env.Ctx, m.ID, 50, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateAdvanceSent)

	m, err = env.Engine.TakeOverMission(env.Ctx, m.ID, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateInProgress)
	if m.DateLimiteMission == nil {
		t.Fatalf("expected deadline derived from delai_maximal_hours")
	}

	if _, err := env.Engine.AddProof(env.Ctx, m.ID, engine.ProofOptions{Filename: "recu.pdf"}, asProvider); err != nil {
		t.Fatalf("add proof: %v", err)
	}
	m, err = env.Engine.SubmitProofsForValidation(env.Ctx, m.ID, "dossier déposé", asProvider)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateProviderValidationSubmitted)

	m, err = env.Engine.ConfirmCompletion(env.Ctx, m.ID, false, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateAdminConfirmed)

	// closing before the balance went out is refused
	_, err = env.Engine.CloseMission(env.Ctx, m.ID, asAdmin)
	if !errors.Is(err, engine.ErrBalanceNotPaid) {
		t.Fatalf("expected ErrBalanceNotPaid, got %v", err)
	}
	if _, err := env.Engine.MarkBalancePaid(env.Ctx, m.ID, asAdmin); err != nil {
		t.Fatalf("balance paid: %v", err)
	}
	m, err = env.Engine.CloseMission(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	check(m, domain.StateCompleted)
	if !m.InternalState.Terminal() {
		t.Fatalf("expected terminal state")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	_, err := env.Engine.ConfirmPayment(env.Ctx, m.ID, asAdmin)
	var ist engine.InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
	if ist.From != domain.StateCreated {
		t.Fatalf("expected From=CREATED, got %s", ist.From)
	}
}

func TestEstimationRevisionLoop(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if _, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", asProvider.Email, asAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 200000, DelayHours: 72}, asProvider); err != nil {
		t.Fatal(err)
	}
	// revision overwrites, state stays PROVIDER_ESTIMATED
	got, err := env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 180000, DelayHours: 48}, asProvider)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if got.InternalState != domain.StateProviderEstimated {
		t.Fatalf("expected PROVIDER_ESTIMATED, got %s", got.InternalState)
	}
	if got.Estimation == nil || got.Estimation.Price != 180000 || got.Estimation.DelayHours != 48 {
		t.Fatalf("expected overwritten estimation, got %+v", got.Estimation)
	}
}

func TestRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if _, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", asProvider.Email, asAdmin); err != nil {
		t.Fatal(err)
	}
	// client cannot estimate
	_, err := env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 1000, DelayHours: 1}, asClient)
	var unauthorized engine.UnauthorizedRoleError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedRoleError, got %v", err)
	}
	// admin passes provider-scoped checks
	if _, err := env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 1000, DelayHours: 1}, asAdmin); err != nil {
		t.Fatalf("admin estimate: %v", err)
	}
}

func TestAdvancePercentageValidated(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if _, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", asProvider.Email, asAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitEstimation(env.Ctx, m.ID, engine.EstimationOptions{Price: 200000, DelayHours: 72}, asProvider); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestClientPayment(env.Ctx, m.ID, asAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ConfirmPayment(env.Ctx, m.ID, asAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendAdvance(env.Ctx, m.ID, 33, asAdmin); err == nil {
		t.Fatalf("expected rejection of unconfigured percentage")
	}
	if _, err := env.Engine.SendAdvance(env.Ctx, m.ID, 100, asAdmin); err != nil {
		t.Fatalf("expected 100%% allowed: %v", err)
	}
}

func TestSubmitRequiresProofs(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	toInProgress(t, env, m.ID)
	_, err := env.Engine.SubmitProofsForValidation(env.Ctx, m.ID, "", asProvider)
	if !errors.Is(err, engine.ErrProofsRequired) {
		t.Fatalf("expected ErrProofsRequired, got %v", err)
	}
}

func TestPhaseSequentialGate(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	toInProgress(t, env, m.ID)

	m, err := env.Engine.AddPhase(env.Ctx, m.ID, engine.PhaseCreateOptions{Ordre: 1, Name: "Dossier"}, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	m, err = env.Engine.AddPhase(env.Ctx, m.ID, engine.PhaseCreateOptions{Ordre: 2, Name: "Dépôt"}, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	// duplicate ordre is refused
	if _, err := env.Engine.AddPhase(env.Ctx, m.ID, engine.PhaseCreateOptions{Ordre: 2, Name: "Doublon"}, asProvider); err == nil {
		t.Fatalf("expected duplicate ordre rejection")
	}

	first, second := m.Phases[0], m.Phases[1]
	// completing phase 2 before phase 1 is gated
	_, err = env.Engine.TogglePhase(env.Ctx, m.ID, second.ID, asProvider)
	var gate engine.PhasePrecedingIncompleteError
	if !errors.As(err, &gate) {
		t.Fatalf("expected PhasePrecedingIncompleteError, got %v", err)
	}
	if _, err := env.Engine.TogglePhase(env.Ctx, m.ID, first.ID, asProvider); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	m, err = env.Engine.TogglePhase(env.Ctx, m.ID, second.ID, asProvider)
	if err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if !m.Phases[0].Completed || !m.Phases[1].Completed {
		t.Fatalf("expected both phases completed")
	}
	// un-completing is always allowed, even out of order
	m, err = env.Engine.TogglePhase(env.Ctx, m.ID, first.ID, asProvider)
	if err != nil {
		t.Fatalf("reopen first: %v", err)
	}
	if m.Phases[0].Completed {
		t.Fatalf("expected first phase reopened")
	}
}

func TestPhaseDelayFlow(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	toInProgress(t, env, m.ID)
	m, err := env.Engine.AddPhase(env.Ctx, m.ID, engine.PhaseCreateOptions{Ordre: 1, Name: "Dossier"}, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	phaseID := m.Phases[0].ID
	// annotating before the admin flag is refused
	if _, err := env.Engine.MarkPhaseDelayed(env.Ctx, m.ID, phaseID, "guichet fermé", asProvider); err == nil {
		t.Fatalf("expected rejection before retard flag")
	}
	if _, err := env.Engine.FlagPhaseRetard(env.Ctx, m.ID, phaseID, asAdmin); err != nil {
		t.Fatal(err)
	}
	m, err = env.Engine.MarkPhaseDelayed(env.Ctx, m.ID, phaseID, "guichet fermé", asProvider)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Phases[0].Retard || m.Phases[0].NoteRetard != "guichet fermé" {
		t.Fatalf("expected delay note persisted, got %+v", m.Phases[0])
	}
	// second note is a no-op, first one wins
	m, err = env.Engine.MarkPhaseDelayed(env.Ctx, m.ID, phaseID, "autre raison", asProvider)
	if err != nil {
		t.Fatal(err)
	}
	if m.Phases[0].NoteRetard != "guichet fermé" {
		t.Fatalf("expected first note kept, got %q", m.Phases[0].NoteRetard)
	}
}

func TestMessageRecipientOverride(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	// client tries to address the provider directly; stored recipient is admin
	msg, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{
		TargetRole: domain.RolePrestataire,
		Content:    "bonjour",
	}, asClient)
	if err != nil {
		t.Fatal(err)
	}
	if msg.To != domain.RoleAdmin {
		t.Fatalf("expected recipient forced to admin, got %s", msg.To)
	}
	if msg.ToEmail != env.Engine.Config.Admin.Email {
		t.Fatalf("expected admin email, got %s", msg.ToEmail)
	}
}

func TestMessageVisibility(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if _, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", asProvider.Email, asAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{Content: "client vers admin"}, asClient); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{Content: "presta vers admin"}, asProvider); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{
		TargetRole: domain.RoleClient, TargetEmail: asClient.Email, Content: "admin vers client",
	}, asAdmin); err != nil {
		t.Fatal(err)
	}

	// the client never sees client<->prestataire traffic and the provider
	// never sees client<->admin traffic
	clientView, err := env.Engine.ListMessagesFor(env.Ctx, m.ID, asClient)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range clientView {
		if msg.From == domain.RolePrestataire || msg.To == domain.RolePrestataire {
			t.Fatalf("client sees provider traffic: %+v", msg)
		}
	}
	if len(clientView) != 2 {
		t.Fatalf("expected 2 messages for client, got %d", len(clientView))
	}
	providerView, err := env.Engine.ListMessagesFor(env.Ctx, m.ID, asProvider)
	if err != nil {
		t.Fatal(err)
	}
	if len(providerView) != 1 {
		t.Fatalf("expected 1 message for provider, got %d", len(providerView))
	}
	adminView, err := env.Engine.ListMessagesFor(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if len(adminView) != 3 {
		t.Fatalf("expected admin to see all 3 messages, got %d", len(adminView))
	}
}

func TestMarkMessagesRead(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	if _, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{Content: "un"}, asClient); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, m.ID, engine.MessageOptions{Content: "deux"}, asClient); err != nil {
		t.Fatal(err)
	}
	unread, err := env.Engine.UnreadCount(env.Ctx, m.ID, asAdmin)
	if err != nil || unread != 2 {
		t.Fatalf("expected 2 unread for admin, got %d (%v)", unread, err)
	}
	n, err := env.Engine.MarkMessagesRead(env.Ctx, m.ID, asAdmin)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 marked, got %d (%v)", n, err)
	}
	unread, err = env.Engine.UnreadCount(env.Ctx, m.ID, asAdmin)
	if err != nil || unread != 0 {
		t.Fatalf("expected 0 unread after read, got %d (%v)", unread, err)
	}
}

func TestArchiveRetention(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := createMission(t, env)
	m, err := env.Engine.ArchiveMission(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !m.Archived() {
		t.Fatalf("expected archived")
	}
	// archived missions reject mutations
	if _, err := env.Engine.AssignProvider(env.Ctx, m.ID, "presta-1", "", asAdmin); err == nil {
		t.Fatalf("expected mutation on archived mission to fail")
	}

	// within the 30-day window restore works
	env.Engine.Now = func() time.Time { return base.Add(29 * 24 * time.Hour) }
	m, err = env.Engine.RestoreMission(env.Ctx, m.ID, asAdmin)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if m.Archived() {
		t.Fatalf("expected restored")
	}

	// past the window restore is refused
	if _, err := env.Engine.ArchiveMission(env.Ctx, m.ID, asAdmin); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return base.Add(29*24*time.Hour + 31*24*time.Hour) }
	_, err = env.Engine.RestoreMission(env.Ctx, m.ID, asAdmin)
	var expired engine.RetentionExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected RetentionExpiredError, got %v", err)
	}
}

func TestCommissionQuoteFallback(t *testing.T) {
	env := newTestEnv(t)
	amount, cfg, err := env.Engine.CommissionQuote(env.Ctx, "demarches", 100000)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Category != "demarches" {
		t.Fatalf("expected demarches config, got %s", cfg.Category)
	}
	// 10% base clamped to [5000, 50000] plus 2% risk
	if amount != 12000 {
		t.Fatalf("expected 12000, got %d", amount)
	}
	// unknown category falls back to the default
	_, cfg, err = env.Engine.CommissionQuote(env.Ctx, "inexistante", 100000)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Category != env.Engine.Config.Commission.DefaultCategory {
		t.Fatalf("expected default category fallback, got %s", cfg.Category)
	}
}

func TestEventsAppended(t *testing.T) {
	env := newTestEnv(t)
	m := createMission(t, env)
	toInProgress(t, env, m.ID)
	events, err := env.Engine.MissionEvents(env.Ctx, m.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) < 6 {
		t.Fatalf("expected one event per transition, got %d", len(events))
	}
	if events[0].Type != "mission.created" {
		t.Fatalf("expected mission.created first, got %s", events[0].Type)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, domain.RolePrestataire, asProvider.Email, "presta key", asAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if raw == "" || key.KeyHash == raw {
		t.Fatalf("expected raw key distinct from stored hash")
	}
	// non-admin cannot manage keys
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, domain.RoleClient, asClient.Email, "", asClient); err == nil {
		t.Fatalf("expected role rejection")
	}
	keys, err := env.Engine.ListAPIKeys(env.Ctx, asAdmin)
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d (%v)", len(keys), err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, key.ID, asAdmin); err != nil {
		t.Fatal(err)
	}
}
