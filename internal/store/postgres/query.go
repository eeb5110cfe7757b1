package postgres

import (
	"fmt"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// listQuery appends time filters on col, newest-first ordering and
// pagination from opts to base, returning the query and its arguments.
// base must end in a WHERE clause or "WHERE 1=1".
func listQuery(base, col string, opts domain.ListOpts, args ...any) (string, []any) {
	query := base
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	query += " ORDER BY " + col + " DESC"

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
