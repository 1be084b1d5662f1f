package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseUUIDRoundTrip(t *testing.T) {
	id, err := ParseUUID(" 4f1c6a6e-9a0b-4a8e-9d3e-7c2b1d0f5e11 ")
	require.NoError(t, err)
	require.True(t, id.Valid)
	require.Equal(t, "4f1c6a6e-9a0b-4a8e-9d3e-7c2b1d0f5e11", UUIDString(id))

	_, err = ParseUUID("not-a-uuid")
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.True(t, IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)))
}

func TestTextTreatsBlankAsNull(t *testing.T) {
	require.False(t, Text("   ").Valid)
	require.Equal(t, "note", Text(" note ").String)
}

func TestListProductsWhereNumbersPlaceholders(t *testing.T) {
	where, args := ListProductsParams{
		Query:    "rice",
		Category: "grains",
		InStock:  true,
		MinPrice: decimal.NewNullDecimal(decimal.NewFromInt(10)),
	}.where()
	require.Equal(t,
		"TRUE AND is_active AND (name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%') AND category = $2 AND stock > 0 AND base_rate >= $3",
		where)
	require.Len(t, args, 3)
}

func TestProductOrderWhitelistsSort(t *testing.T) {
	require.Equal(t, "base_rate ASC, id", productOrder("price_asc"))
	require.Equal(t, "created_at DESC, id", productOrder("; DROP TABLE products"))
}
