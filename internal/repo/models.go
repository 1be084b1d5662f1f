package repo

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type User struct {
	ID           pgtype.UUID
	Email        string
	Name         string
	Phone        pgtype.Text
	PasswordHash string
	Roles        []string
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type Session struct {
	ID               pgtype.UUID
	UserID           pgtype.UUID
	RefreshTokenHash string
	UserAgent        pgtype.Text
	Ip               pgtype.Text
	ExpiresAt        pgtype.Timestamptz
	RevokedAt        pgtype.Timestamptz
	CreatedAt        pgtype.Timestamptz
}

type PasswordReset struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	TokenHash string
	ExpiresAt pgtype.Timestamptz
	UsedAt    pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

// Product stores tiers and pack sizes as raw JSONB documents; the catalog package owns their shape.
type Product struct {
	ID          pgtype.UUID
	Name        string
	Slug        string
	Description string
	Category    string
	BaseRate    decimal.Decimal
	TaxPercent  decimal.Decimal
	Stock       int32
	Tiers       []byte
	PackSizes   []byte
	IsActive    bool
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type Offer struct {
	ID                pgtype.UUID
	Code              string
	Description       string
	DiscountType      string
	Discount          decimal.Decimal
	MinPurchaseAmount decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	ProductIds        []pgtype.UUID
	Status            string
	ExpiresAt         pgtype.Timestamptz
	UsageLimit        pgtype.Int4
	UsageCount        int32
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}

type Order struct {
	ID              pgtype.UUID
	Number          string
	UserID          pgtype.UUID
	Status          string
	CartTotal       decimal.Decimal
	DiscountAmount  decimal.Decimal
	PayableAmount   decimal.Decimal
	OfferCode       pgtype.Text
	ShippingAddress []byte
	Notes           pgtype.Text
	PaidAt          pgtype.Timestamptz
	CanceledAt      pgtype.Timestamptz
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type OrderLine struct {
	ID           pgtype.UUID
	OrderID      pgtype.UUID
	ProductID    pgtype.UUID
	ProductName  string
	PackSizeID   string
	PackName     string
	Quantity     int32
	TotalUnits   int32
	TierLabel    string
	PricePerUnit decimal.Decimal
	Subtotal     decimal.Decimal
	Position     int32
}

type Payment struct {
	ID          pgtype.UUID
	OrderID     pgtype.UUID
	Provider    string
	ProviderRef string
	Status      string
	Amount      decimal.Decimal
	RedirectUrl pgtype.Text
	Payload     []byte
	ExpiresAt   pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type SupportTicket struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	Subject   string
	Status    string
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type SupportMessage struct {
	ID         pgtype.UUID
	TicketID   pgtype.UUID
	AuthorID   pgtype.UUID
	AuthorRole string
	Body       string
	CreatedAt  pgtype.Timestamptz
}

type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}

type AuditLog struct {
	ID           pgtype.UUID
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Route        pgtype.Text
	Status       int32
	Ip           pgtype.Text
	UserAgent    pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
	OccurredAt   pgtype.Timestamptz
}
