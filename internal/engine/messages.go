package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leboy/internal/domain"
	"leboy/internal/events"
	"leboy/internal/messaging"
)

// MessageOptions are parameters for sending a message on a mission. Target
// fields are honored for admin senders only; anyone else addresses the admin
// whatever they submit.
type MessageOptions struct {
	TargetRole  domain.Role
	TargetEmail string
	Content     string
	Type        domain.MessageType
}

func (e Engine) mailbox() messaging.Mailbox {
	return messaging.Mailbox{AdminEmail: e.Config.Admin.Email}
}

// SendMessage appends a message to a mission's log, applying the recipient
// override policy.
func (e Engine) SendMessage(ctx context.Context, missionID string, opts MessageOptions, actor Actor) (domain.Message, error) {
	if e.Config == nil {
		return domain.Message{}, errors.New("config not loaded")
	}
	if !actor.Role.Valid() {
		return domain.Message{}, UnauthorizedRoleError{Role: actor.Role, Operation: "send message"}
	}
	if opts.Content == "" {
		return domain.Message{}, errors.New("message content is required")
	}
	if opts.Type == "" {
		opts.Type = domain.MessageChat
	}
	if opts.Type != domain.MessageChat && opts.Type != domain.MessageEmail {
		return domain.Message{}, fmt.Errorf("unknown message type %q", opts.Type)
	}
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return domain.Message{}, err
	}
	toRole, toEmail := e.mailbox().Recipient(actor.Role, opts.TargetRole, opts.TargetEmail, m)

	msg := domain.Message{
		ID:        uuid.New().String(),
		MissionID: missionID,
		From:      actor.Role,
		To:        toRole,
		FromEmail: actor.Email,
		ToEmail:   toEmail,
		Content:   opts.Content,
		Type:      opts.Type,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()

	msg, err = e.Repo.InsertMessage(ctx, tx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "message.sent", missionID, string(actor.Role), actor.Email, events.EventPayload{
		"message_id": msg.ID,
		"to_role":    string(msg.To),
		"type":       string(msg.Type),
	}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ListMessagesFor returns the mission's log as visible to the actor, in
// insertion order.
func (e Engine) ListMessagesFor(ctx context.Context, missionID string, actor Actor) ([]domain.Message, error) {
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.Repo.ListMessages(ctx, missionID)
	if err != nil {
		return nil, err
	}
	providerEmail := ""
	if m.ProviderEmail != nil {
		providerEmail = *m.ProviderEmail
	}
	return messaging.Filter(msgs, actor.Role, actor.Email, providerEmail), nil
}

// MarkMessagesRead flips the read flag on the actor's visible messages that
// are addressed to the actor's role. Returns how many were flipped.
func (e Engine) MarkMessagesRead(ctx context.Context, missionID string, actor Actor) (int, error) {
	visible, err := e.ListMessagesFor(ctx, missionID, actor)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, m := range visible {
		if m.To == actor.Role && !m.Lu {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkMessagesRead(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// UnreadCount reports how many messages addressed to the actor's role are
// still unread. Messages addressed to a role are always visible to it, so the
// count needs no visibility filtering.
func (e Engine) UnreadCount(ctx context.Context, missionID string, actor Actor) (int, error) {
	if _, err := e.Repo.GetMission(ctx, missionID); err != nil {
		return 0, err
	}
	return e.Repo.CountUnread(ctx, missionID, actor.Role)
}
