package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/kbassist/internal/model"
	"github.com/xxxsen/kbassist/internal/pkg/dbutil"
)

const chunkInsertBatch = 200

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Replace swaps the whole content of a collection in one transaction.
// Concurrent replaces of the same collection are serialized by an advisory
// lock, so the last one wins instead of both sets surviving.
func (r *ChunkRepo) Replace(ctx context.Context, collection string, sources []model.Source, chunks []model.Chunk) error {
	return dbutil.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", collection); err != nil {
			return fmt.Errorf("lock collection: %w", err)
		}
		if err := deleteCollections(ctx, tx, []string{collection}); err != nil {
			return err
		}
		if err := insertSources(ctx, tx, sources); err != nil {
			return fmt.Errorf("insert sources: %w", err)
		}
		for start := 0; start < len(chunks); start += chunkInsertBatch {
			end := start + chunkInsertBatch
			if end > len(chunks) {
				end = len(chunks)
			}
			if err := insertChunks(ctx, tx, chunks[start:end]); err != nil {
				return fmt.Errorf("insert chunks: %w", err)
			}
		}
		return nil
	})
}

// Search returns the k chunks closest to vec by cosine distance, best first.
func (r *ChunkRepo) Search(ctx context.Context, collection string, vec []float32, k int) ([]model.SearchHit, error) {
	const query = `
		SELECT id, collection, source_id, source_name, page, position, chunk_type, content,
			token_count, content_hash, ctime, 1 - (embedding <=> $2) AS score
		FROM kb_chunks
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, collection, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]model.SearchHit, 0, k)
	for rows.Next() {
		var c model.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.Collection, &c.SourceID, &c.SourceName, &c.Page, &c.Position, &c.ChunkType,
			&c.Content, &c.TokenCount, &c.ContentHash, &c.Ctime, &score); err != nil {
			return nil, err
		}
		hits = append(hits, model.SearchHit{Chunk: c, Score: float32(score)})
	}
	return hits, rows.Err()
}

func (r *ChunkRepo) CountByCollection(ctx context.Context, collection string) (int, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(*) FROM kb_chunks WHERE collection=?", []interface{}{collection})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChunkRepo) DeleteCollections(ctx context.Context, collections []string) error {
	if len(collections) == 0 {
		return nil
	}
	return dbutil.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return deleteCollections(ctx, tx, collections)
	})
}

func deleteCollections(ctx context.Context, tx *sql.Tx, collections []string) error {
	for _, table := range []string{"kb_chunks", "kb_sources"} {
		query, args, err := sqlx.In("DELETE FROM "+table+" WHERE collection IN (?)", collections)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		data = append(data, map[string]interface{}{
			"id":           c.ID,
			"collection":   c.Collection,
			"source_id":    c.SourceID,
			"source_name":  c.SourceName,
			"page":         c.Page,
			"position":     c.Position,
			"chunk_type":   string(c.ChunkType),
			"content":      c.Content,
			"token_count":  c.TokenCount,
			"content_hash": c.ContentHash,
			"embedding":    pgvector.NewVector(c.Embedding),
			"ctime":        c.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("kb_chunks", data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}
