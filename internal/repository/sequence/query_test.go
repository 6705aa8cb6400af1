package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Additional-Code/copra/internal/database/databasetest"
)

func TestPostgresIncrementAddressesInsertAlias(t *testing.T) {
	query := upsertIncrement(databasetest.Offline(t, "postgres"), "20250301").String()

	assert.Contains(t, query, `INSERT INTO "order_sequences" AS "order_sequence"`)
	assert.Contains(t, query, `ON CONFLICT (day) DO UPDATE SET value = "order_sequence".value + 1 RETURNING value`)
	assert.NotContains(t, query, "order_sequences.value")
}

func TestMySQLIncrementCarriesValueInSession(t *testing.T) {
	query := mysqlIncrement(databasetest.Offline(t, "mysql"), "20250301").String()

	assert.Contains(t, query, "VALUES ('20250301', LAST_INSERT_ID(1))")
	assert.Contains(t, query, "ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1)")
	assert.NotContains(t, query, "RETURNING")
}
