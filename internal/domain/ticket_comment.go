package domain

import "time"

// TicketComment captures communications in a ticket thread.
type TicketComment struct {
	ID         string
	TicketID   string
	AuthorType ActorType
	AuthorID   string
	Body       string
	CreatedAt  time.Time
}
