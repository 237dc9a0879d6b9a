package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

// ticketChange accumulates one atomic mutation: the new ticket state plus
// the history, comments, approval requests and events it produces.
type ticketChange struct {
	ticket    *domain.Ticket
	actor     domain.Actor
	now       time.Time
	history   []domain.TicketHistory
	comments  []domain.TicketComment
	approvals []domain.ApprovalRequest
	events    []events.Event
	dirty     bool
}

func newTicketChange(ticket *domain.Ticket, actor domain.Actor, now time.Time) *ticketChange {
	return &ticketChange{ticket: ticket, actor: actor, now: now}
}

func (c *ticketChange) touch() {
	c.dirty = true
}

// withActor runs fn with entries attributed to actor.
func (c *ticketChange) withActor(actor domain.Actor, fn func()) {
	prev := c.actor
	c.actor = actor
	defer func() { c.actor = prev }()
	fn()
}

func (c *ticketChange) addHistory(changeType domain.TicketChangeType, oldValue, newValue map[string]any, reason string) {
	c.history = append(c.history, domain.TicketHistory{
		ID:            uuid.NewString(),
		TicketID:      c.ticket.ID,
		ChangedByType: c.actor.Type,
		ChangedByID:   c.actor.ID,
		ChangeType:    changeType,
		OldValue:      oldValue,
		NewValue:      newValue,
		Reason:        reason,
		CreatedAt:     c.now,
	})
	c.touch()
}

func (c *ticketChange) setAssignee(userID *string, reason string) {
	t := c.ticket
	if sameAssignee(t.AssignedTo, userID) {
		return
	}
	old := t.AssignedTo
	if userID == nil {
		t.AssignedTo = nil
	} else {
		assignee := *userID
		t.AssignedTo = &assignee
	}
	c.addHistory(domain.ChangeTypeAssignee,
		map[string]any{"assigned_to": old},
		map[string]any{"assigned_to": t.AssignedTo},
		reason)
	c.emit(events.EventTicketAssigned, events.TicketAssignedPayload{
		OldAssignee: old,
		NewAssignee: t.AssignedTo,
	})
}

func (c *ticketChange) setApprovalStatus(status domain.ApprovalStatus, reason string) {
	t := c.ticket
	if t.ApprovalStatus == status {
		return
	}
	old := t.ApprovalStatus
	t.ApprovalStatus = status
	c.addHistory(domain.ChangeTypeApproval,
		map[string]any{"approval_status": old},
		map[string]any{"approval_status": status},
		reason)
}

func (c *ticketChange) addComment(authorType domain.ActorType, authorID, body string) domain.TicketComment {
	comment := domain.TicketComment{
		ID:         uuid.NewString(),
		TicketID:   c.ticket.ID,
		AuthorType: authorType,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  c.now,
	}
	c.comments = append(c.comments, comment)
	c.emit(events.EventTicketCommentAdded, events.TicketCommentAddedPayload{
		CommentID:   comment.ID,
		AuthorType:  authorType,
		AuthorID:    authorID,
		BodyPreview: stringPreview(body, 140),
	})
	c.touch()
	return comment
}

// upsertRequests stages approval requests, replacing earlier copies by ID.
func (c *ticketChange) upsertRequests(requests ...domain.ApprovalRequest) {
	for _, req := range requests {
		replaced := false
		for i := range c.approvals {
			if c.approvals[i].ID == req.ID {
				c.approvals[i] = req
				replaced = true
				break
			}
		}
		if !replaced {
			c.approvals = append(c.approvals, req)
		}
		c.touch()
	}
}

// emit queues an event; the ticket reference is filled in on publish.
func (c *ticketChange) emit(eventType events.EventType, payload interface{}) {
	c.events = append(c.events, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Actor:     c.actor,
		Timestamp: c.now,
		Payload:   payload,
	})
}

func (c *ticketChange) write() repository.TicketWrite {
	return repository.TicketWrite{
		Ticket:    c.ticket,
		History:   c.history,
		Comments:  c.comments,
		Approvals: c.approvals,
	}
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
