package support

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/repo"
)

// Ticket statuses.
const (
	StatusOpen     = "open"
	StatusAnswered = "answered"
	StatusClosed   = "closed"
)

// Author roles on a message.
const (
	AuthorCustomer = "customer"
	AuthorAdmin    = "admin"
)

// Querier is the support slice of repo.Queries.
type Querier interface {
	CreateTicket(ctx context.Context, userID pgtype.UUID, subject string) (repo.SupportTicket, error)
	GetTicket(ctx context.Context, id pgtype.UUID) (repo.SupportTicket, error)
	SetTicketStatus(ctx context.Context, id pgtype.UUID, status string) (repo.SupportTicket, error)
	ListTickets(ctx context.Context, arg repo.ListTicketsParams) ([]repo.SupportTicket, error)
	CountTickets(ctx context.Context, userID pgtype.UUID, status string) (int64, error)
	CreateTicketMessage(ctx context.Context, arg repo.CreateTicketMessageParams) (repo.SupportMessage, error)
	ListTicketMessages(ctx context.Context, ticketID pgtype.UUID) ([]repo.SupportMessage, error)
}

// TxFunc runs fn inside a database transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// Service manages customer support threads.
type Service struct {
	Q      Querier
	Tx     TxFunc
	Events events.Emitter
	Log    zerolog.Logger
}

// NewService wires the service against a pgx store.
func NewService(store *repo.Store, bus events.Emitter, log zerolog.Logger) *Service {
	return &Service{
		Q: store.Queries,
		Tx: func(ctx context.Context, fn func(q Querier) error) error {
			return store.InTx(ctx, func(q *repo.Queries) error { return fn(q) })
		},
		Events: bus,
		Log:    log,
	}
}

// OpenInput starts a ticket with its first message.
type OpenInput struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

// ReplyInput appends a message to a thread.
type ReplyInput struct {
	Message string `json:"message" validate:"required,max=5000"`
}

// Message is one entry of a thread.
type Message struct {
	ID         string    `json:"id"`
	AuthorRole string    `json:"authorRole"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Ticket is the API view of a support ticket. Messages are only filled on detail reads.
type Ticket struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}

func toTicket(t repo.SupportTicket, msgs []repo.SupportMessage) Ticket {
	out := Ticket{
		ID:        repo.UUIDString(t.ID),
		UserID:    repo.UUIDString(t.UserID),
		Subject:   t.Subject,
		Status:    t.Status,
		CreatedAt: t.CreatedAt.Time,
		UpdatedAt: t.UpdatedAt.Time,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, Message{
			ID:         repo.UUIDString(m.ID),
			AuthorRole: m.AuthorRole,
			Body:       m.Body,
			CreatedAt:  m.CreatedAt.Time,
		})
	}
	return out
}

func parseID(id, what string) (pgtype.UUID, error) {
	u, err := repo.ParseUUID(id)
	if err != nil {
		return pgtype.UUID{}, common.InvalidInput("invalid "+what+" id", err)
	}
	return u, nil
}

func normalizeStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", StatusOpen, StatusAnswered, StatusClosed:
		return status, nil
	}
	return "", common.InvalidInput("unknown ticket status", nil)
}

// Open creates a ticket and its first message in one transaction.
func (s *Service) Open(ctx context.Context, userID string, in OpenInput) (Ticket, error) {
	uid, err := parseID(userID, "user")
	if err != nil {
		return Ticket{}, err
	}
	in.Subject = strings.TrimSpace(in.Subject)
	in.Message = strings.TrimSpace(in.Message)
	if err := common.ValidateStruct(in); err != nil {
		return Ticket{}, err
	}
	var (
		ticket repo.SupportTicket
		first  repo.SupportMessage
	)
	err = s.Tx(ctx, func(q Querier) error {
		var err error
		if ticket, err = q.CreateTicket(ctx, uid, in.Subject); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		first, err = q.CreateTicketMessage(ctx, repo.CreateTicketMessageParams{
			TicketID: ticket.ID, AuthorID: uid, AuthorRole: AuthorCustomer, Body: in.Message,
		})
		if err != nil {
			return fmt.Errorf("create ticket message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return toTicket(ticket, []repo.SupportMessage{first}), nil
}

func (s *Service) list(ctx context.Context, owner pgtype.UUID, status string, page, perPage int) ([]Ticket, int64, error) {
	status, err := normalizeStatus(status)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Q.CountTickets(ctx, owner, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}
	rows, err := s.Q.ListTickets(ctx, repo.ListTicketsParams{UserID: owner, Status: status, Limit: int32(perPage), Offset: common.Offset(page, perPage)})
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	out := make([]Ticket, 0, len(rows))
	for _, t := range rows {
		out = append(out, toTicket(t, nil))
	}
	return out, total, nil
}

// ListMine lists the caller's tickets, most recently active first.
func (s *Service) ListMine(ctx context.Context, userID, status string, page, perPage int) ([]Ticket, int64, error) {
	uid, err := parseID(userID, "user")
	if err != nil {
		return nil, 0, err
	}
	return s.list(ctx, uid, status, page, perPage)
}

// List lists every ticket for the admin inbox.
func (s *Service) List(ctx context.Context, status string, page, perPage int) ([]Ticket, int64, error) {
	return s.list(ctx, pgtype.UUID{}, status, page, perPage)
}

func (s *Service) load(ctx context.Context, ticketID string) (repo.SupportTicket, error) {
	id, err := parseID(ticketID, "ticket")
	if err != nil {
		return repo.SupportTicket{}, err
	}
	t, err := s.Q.GetTicket(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.SupportTicket{}, common.NotFound("ticket not found", err)
		}
		return repo.SupportTicket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *Service) loadOwned(ctx context.Context, userID, ticketID string) (repo.SupportTicket, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return repo.SupportTicket{}, err
	}
	if repo.UUIDString(t.UserID) != userID {
		return repo.SupportTicket{}, common.NotFound("ticket not found", nil)
	}
	return t, nil
}

func (s *Service) thread(ctx context.Context, t repo.SupportTicket) (Ticket, error) {
	msgs, err := s.Q.ListTicketMessages(ctx, t.ID)
	if err != nil {
		return Ticket{}, fmt.Errorf("list ticket messages: %w", err)
	}
	return toTicket(t, msgs), nil
}

// GetMine returns one of the caller's tickets with its thread.
func (s *Service) GetMine(ctx context.Context, userID, ticketID string) (Ticket, error) {
	t, err := s.loadOwned(ctx, userID, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	return s.thread(ctx, t)
}

// Get returns any ticket with its thread.
func (s *Service) Get(ctx context.Context, ticketID string) (Ticket, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	return s.thread(ctx, t)
}

// ReplyMine adds a customer message; the ticket goes back to open.
func (s *Service) ReplyMine(ctx context.Context, userID, ticketID string, in ReplyInput) (Ticket, error) {
	t, err := s.loadOwned(ctx, userID, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	return s.reply(ctx, t, t.UserID, AuthorCustomer, StatusOpen, in)
}

// Reply adds an admin message, marks the ticket answered and notifies the customer.
func (s *Service) Reply(ctx context.Context, adminID, ticketID string, in ReplyInput) (Ticket, error) {
	aid, err := parseID(adminID, "user")
	if err != nil {
		return Ticket{}, err
	}
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	out, err := s.reply(ctx, t, aid, AuthorAdmin, StatusAnswered, in)
	if err != nil {
		return Ticket{}, err
	}
	if s.Events != nil {
		payload := map[string]any{
			"ticketId": out.ID,
			"userId":   out.UserID,
			"subject":  out.Subject,
		}
		if _, err := s.Events.Emit(ctx, events.TopicSupportReplied, t.ID, payload); err != nil {
			s.Log.Warn().Err(err).Str("ticket_id", out.ID).Msg("support_event_failed")
		}
	}
	return out, nil
}

func (s *Service) reply(ctx context.Context, t repo.SupportTicket, author pgtype.UUID, role, next string, in ReplyInput) (Ticket, error) {
	in.Message = strings.TrimSpace(in.Message)
	if err := common.ValidateStruct(in); err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusClosed {
		return Ticket{}, common.Conflict("ticket is closed", nil)
	}
	err := s.Tx(ctx, func(q Querier) error {
		if _, err := q.CreateTicketMessage(ctx, repo.CreateTicketMessageParams{
			TicketID: t.ID, AuthorID: author, AuthorRole: role, Body: in.Message,
		}); err != nil {
			return fmt.Errorf("create ticket message: %w", err)
		}
		updated, err := q.SetTicketStatus(ctx, t.ID, next)
		if err != nil {
			if repo.IsNotFound(err) {
				return common.Conflict("ticket is closed", err)
			}
			return fmt.Errorf("set ticket status: %w", err)
		}
		t = updated
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return s.thread(ctx, t)
}

// Close closes a ticket. Closing twice is a conflict.
func (s *Service) Close(ctx context.Context, ticketID string) (Ticket, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	updated, err := s.Q.SetTicketStatus(ctx, t.ID, StatusClosed)
	if err != nil {
		if repo.IsNotFound(err) {
			return Ticket{}, common.Conflict("ticket is already closed", err)
		}
		return Ticket{}, fmt.Errorf("close ticket: %w", err)
	}
	return toTicket(updated, nil), nil
}
