package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/quorum/pkg/errs"
)

func TestClassifySelect(t *testing.T) {
	c, err := Classify("SELECT * FROM orders WHERE id = 1")
	assert.NoError(t, err)
	assert.Equal(t, Select, c.Verb)
	assert.Equal(t, "orders", c.Table)
	assert.True(t, c.Verb.IsRead())
	assert.False(t, c.Verb.IsWrite())
}

func TestClassifyInsert(t *testing.T) {
	c, err := Classify("insert into users (name) values ('a')")
	assert.NoError(t, err)
	assert.Equal(t, Insert, c.Verb)
	assert.Equal(t, "users", c.Table)
	assert.True(t, c.Verb.IsWrite())
}

func TestClassifyUpdate(t *testing.T) {
	c, err := Classify("UPDATE accounts SET balance = 0 WHERE id = 5")
	assert.NoError(t, err)
	assert.Equal(t, Update, c.Verb)
	assert.Equal(t, "accounts", c.Table)
}

func TestClassifyDelete(t *testing.T) {
	c, err := Classify("DELETE FROM sessions WHERE expired = 1")
	assert.NoError(t, err)
	assert.Equal(t, Delete, c.Verb)
	assert.Equal(t, "sessions", c.Table)
}

func TestClassifyUnknownRejected(t *testing.T) {
	_, err := Classify("BEGIN TRANSACTION")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidStatement))
}

func TestClassifyEmptyStatementRejected(t *testing.T) {
	_, err := Classify("   ")
	assert.True(t, errors.Is(err, errs.ErrInvalidStatement))
}

func TestClassifyBacktickedTable(t *testing.T) {
	c, err := Classify("SELECT * FROM `order items`")
	assert.NoError(t, err)
	_ = c
}

func TestClassifyUnextractableTable(t *testing.T) {
	c, err := Classify("DELETE")
	assert.NoError(t, err)
	assert.Equal(t, "", c.Table)
}
