package messaging

import (
	"testing"

	"leboy/internal/domain"
)

func msg(id string, from, to domain.Role, fromEmail, toEmail string) domain.Message {
	return domain.Message{ID: id, From: from, To: to, FromEmail: fromEmail, ToEmail: toEmail}
}

const (
	adminEmail    = "ops@leboy.app"
	clientEmail   = "diane@diaspora.example"
	providerEmail = "paul@douala.example"
)

func channelFixture() []domain.Message {
	return []domain.Message{
		msg("m1", domain.RoleAdmin, domain.RolePrestataire, adminEmail, providerEmail),
		msg("m2", domain.RoleClient, domain.RoleAdmin, clientEmail, adminEmail),
		msg("m3", domain.RoleAdmin, domain.RoleClient, adminEmail, clientEmail),
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestFilterAdminSeesAll(t *testing.T) {
	got := Filter(channelFixture(), domain.RoleAdmin, adminEmail, providerEmail)
	if len(got) != 3 {
		t.Fatalf("admin should see all 3 messages, got %v", ids(got))
	}
}

func TestFilterClientChannel(t *testing.T) {
	got := Filter(channelFixture(), domain.RoleClient, clientEmail, providerEmail)
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("client should see {m2,m3} in order, got %v", ids(got))
	}
}

func TestFilterProviderChannel(t *testing.T) {
	got := Filter(channelFixture(), domain.RolePrestataire, providerEmail, providerEmail)
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("provider should see {m1}, got %v", ids(got))
	}
}

func TestFilterRolePairExclusionBeatsEmailMatch(t *testing.T) {
	// Admin->provider message that carries the client's address in to_email:
	// the client must still never see it.
	poisoned := []domain.Message{
		msg("x1", domain.RoleAdmin, domain.RolePrestataire, adminEmail, clientEmail),
		msg("x2", domain.RolePrestataire, domain.RoleAdmin, clientEmail, adminEmail),
	}
	if got := Filter(poisoned, domain.RoleClient, clientEmail, providerEmail); len(got) != 0 {
		t.Fatalf("client must not see admin<->prestataire messages, got %v", ids(got))
	}
	// Symmetric: admin<->client traffic stamped with the provider's address.
	poisoned = []domain.Message{
		msg("y1", domain.RoleAdmin, domain.RoleClient, adminEmail, providerEmail),
		msg("y2", domain.RoleClient, domain.RoleAdmin, providerEmail, adminEmail),
	}
	if got := Filter(poisoned, domain.RolePrestataire, providerEmail, providerEmail); len(got) != 0 {
		t.Fatalf("provider must not see admin<->client messages, got %v", ids(got))
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	msgs := []domain.Message{
		msg("a", domain.RoleClient, domain.RoleAdmin, clientEmail, adminEmail),
		msg("b", domain.RoleAdmin, domain.RoleClient, adminEmail, clientEmail),
		msg("c", domain.RoleClient, domain.RoleAdmin, clientEmail, adminEmail),
	}
	got := Filter(msgs, domain.RoleClient, clientEmail, "")
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("order not preserved: %v", ids(got))
	}
}

func TestRecipientOverrideForNonAdmin(t *testing.T) {
	box := Mailbox{AdminEmail: adminEmail}
	m := domain.Mission{ID: "mis-1", ClientEmail: clientEmail, ProviderEmail: strPtr(providerEmail)}

	// Client tries to address the provider directly.
	role, email := box.Recipient(domain.RoleClient, domain.RolePrestataire, providerEmail, m)
	if role != domain.RoleAdmin || email != adminEmail {
		t.Fatalf("client recipient must be forced to admin, got %s/%s", role, email)
	}
	// Provider tries to address the client directly.
	role, email = box.Recipient(domain.RolePrestataire, domain.RoleClient, clientEmail, m)
	if role != domain.RoleAdmin || email != adminEmail {
		t.Fatalf("provider recipient must be forced to admin, got %s/%s", role, email)
	}
}

func TestRecipientAdminChooses(t *testing.T) {
	box := Mailbox{AdminEmail: adminEmail}
	m := domain.Mission{ID: "mis-1", ClientEmail: clientEmail, ProviderEmail: strPtr(providerEmail)}

	role, email := box.Recipient(domain.RoleAdmin, domain.RolePrestataire, "", m)
	if role != domain.RolePrestataire || email != providerEmail {
		t.Fatalf("admin->provider, got %s/%s", role, email)
	}
	role, email = box.Recipient(domain.RoleAdmin, domain.RoleClient, "", m)
	if role != domain.RoleClient || email != clientEmail {
		t.Fatalf("admin->client, got %s/%s", role, email)
	}
}

func strPtr(s string) *string { return &s }
