package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: activeCodeIndexName}
	assert.True(t, isUniqueViolation(dup, activeCodeIndexName))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert room: %w", dup), activeCodeIndexName))
	assert.True(t, isUniqueViolation(dup, ""))

	other := &pgconn.PgError{Code: "23505", ConstraintName: "room_players_pkey"}
	assert.False(t, isUniqueViolation(other, activeCodeIndexName))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
	assert.False(t, isUniqueViolation(nil, ""))
}
