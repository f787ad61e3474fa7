// Package messaging partitions a mission's message log into the two channels
// the marketplace exposes: client<->admin and admin<->prestataire. The two
// channels must never cross-leak, and no message travels directly between a
// client and a provider.
package messaging

import (
	"log"

	"leboy/internal/domain"
)

// Mailbox carries the injected admin identity used to force recipients on
// send. It is plain configuration, never read from the environment here.
type Mailbox struct {
	AdminEmail string
}

// pairIs reports whether the message's {from,to} roles equal {a,b} in either
// direction.
func pairIs(m domain.Message, a, b domain.Role) bool {
	return (m.From == a && m.To == b) || (m.From == b && m.To == a)
}

// Filter returns the subset of msgs visible to the viewer, preserving
// insertion order. Admin sees everything. For clients and providers the
// role-pair exclusion takes precedence over any email match: a client never
// sees admin<->prestataire traffic and a provider never sees admin<->client
// traffic, whatever the stored addresses say.
func Filter(msgs []domain.Message, viewer domain.Role, viewerEmail, providerEmail string) []domain.Message {
	if viewer == domain.RoleAdmin {
		return msgs
	}
	var res []domain.Message
	for _, m := range msgs {
		switch viewer {
		case domain.RoleClient:
			if pairIs(m, domain.RoleAdmin, domain.RolePrestataire) {
				continue
			}
			if m.From == domain.RoleClient || m.To == domain.RoleClient ||
				m.FromEmail == viewerEmail || m.ToEmail == viewerEmail {
				res = append(res, m)
			}
		case domain.RolePrestataire:
			if pairIs(m, domain.RoleAdmin, domain.RoleClient) {
				continue
			}
			involved := m.From == domain.RolePrestataire || m.To == domain.RolePrestataire
			if providerEmail != "" && (m.FromEmail == providerEmail || m.ToEmail == providerEmail) {
				involved = true
			}
			if viewerEmail != "" && (m.FromEmail == viewerEmail || m.ToEmail == viewerEmail) {
				involved = true
			}
			if involved {
				res = append(res, m)
			}
		}
	}
	return res
}

// Recipient resolves the role and email a message is actually delivered to.
// Non-admin senders always address the admin, whatever recipient they
// submitted; the override is a silent server-side correction, only logged.
// Admin senders choose between the client and the provider explicitly.
func (b Mailbox) Recipient(sender domain.Role, target domain.Role, targetEmail string, m domain.Mission) (domain.Role, string) {
	if sender != domain.RoleAdmin {
		if target != domain.RoleAdmin || targetEmail != b.AdminEmail {
			log.Printf("messaging: overriding recipient %s/%s from %s sender on mission %s", target, targetEmail, sender, m.ID)
		}
		return domain.RoleAdmin, b.AdminEmail
	}
	if target == domain.RolePrestataire {
		email := targetEmail
		if m.ProviderEmail != nil {
			email = *m.ProviderEmail
		}
		return domain.RolePrestataire, email
	}
	return domain.RoleClient, m.ClientEmail
}
