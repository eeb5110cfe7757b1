package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestListQueryDefaults(t *testing.T) {
	q, args := listQuery("SELECT id FROM signals WHERE 1=1", "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM signals WHERE 1=1 ORDER BY created_at DESC LIMIT $1", q)
	assert.Equal(t, []any{100}, args)
}

func TestListQueryFiltersAndPaging(t *testing.T) {
	since := time.Unix(10, 0)
	until := time.Unix(20, 0)
	q, args := listQuery("SELECT id FROM trades WHERE status = $1", "opened_at",
		domain.ListOpts{Since: &since, Until: &until, Limit: 5, Offset: 10}, "failed")

	assert.Equal(t, "SELECT id FROM trades WHERE status = $1 AND opened_at >= $2 AND opened_at <= $3"+
		" ORDER BY opened_at DESC LIMIT $4 OFFSET $5", q)
	assert.Equal(t, []any{"failed", since, until, 5, 10}, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "arb"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestAuditBaseEscapesPrefix(t *testing.T) {
	q, args := auditBase("")
	assert.NotContains(t, q, "LIKE")
	assert.Empty(t, args)

	q, args = auditBase("risk_")
	assert.Contains(t, q, "AND event LIKE $1")
	assert.Equal(t, []any{`risk\_%`}, args)

	full, all := listQuery(q, "created_at", domain.ListOpts{Limit: 10}, args...)
	assert.Contains(t, full, "LIMIT $2")
	assert.Equal(t, []any{`risk\_%`, 10}, all)
}

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles()
	assert.NoError(t, err)
	assert.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0])
	assert.IsNonDecreasing(t, files)
}
