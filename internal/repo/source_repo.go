package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbassist/internal/model"
	"github.com/xxxsen/kbassist/internal/pkg/dbutil"
)

var sourceColumns = []string{"id", "collection", "kind", "name", "title", "page_count", "chunk_count", "ctime"}

type SourceRepo struct {
	db *sql.DB
}

func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

func (r *SourceRepo) ListByCollection(ctx context.Context, collection string) ([]model.Source, error) {
	where := map[string]interface{}{
		"collection": collection,
		"_orderby":   "ctime asc, name asc",
	}
	sqlStr, args, err := builder.BuildSelect("kb_sources", where, sourceColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sources := make([]model.Source, 0)
	for rows.Next() {
		var item model.Source
		if err := rows.Scan(&item.ID, &item.Collection, &item.Kind, &item.Name, &item.Title, &item.PageCount, &item.ChunkCount, &item.Ctime); err != nil {
			return nil, err
		}
		sources = append(sources, item)
	}
	return sources, rows.Err()
}

// ListIdleCollections returns collections whose newest load is older than cutoff.
func (r *SourceRepo) ListIdleCollections(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	const query = `
		SELECT collection
		FROM kb_sources
		GROUP BY collection
		HAVING MAX(ctime) < $1
		ORDER BY MAX(ctime) ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var collection string
		if err := rows.Scan(&collection); err != nil {
			return nil, err
		}
		out = append(out, collection)
	}
	return out, rows.Err()
}

func insertSources(ctx context.Context, tx *sql.Tx, sources []model.Source) error {
	if len(sources) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(sources))
	for _, s := range sources {
		data = append(data, map[string]interface{}{
			"id":          s.ID,
			"collection":  s.Collection,
			"kind":        string(s.Kind),
			"name":        s.Name,
			"title":       s.Title,
			"page_count":  s.PageCount,
			"chunk_count": s.ChunkCount,
			"ctime":       s.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("kb_sources", data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}
