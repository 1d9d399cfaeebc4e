package repository

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

type ChunkRepository interface {
	StoreChunks(ctx context.Context, filename string, chunks []entity.DocumentChunk) error
	GetChunks(ctx context.Context, filename string) ([]entity.DocumentChunk, error)
	DeleteChunks(ctx context.Context, filename string) (int, error)
}

type chunkRepo struct {
	db  *DB
	log *slog.Logger
}

func NewChunkRepository(db *DB, log *slog.Logger) ChunkRepository {
	if log == nil {
		log = slog.Default()
	}
	return &chunkRepo{db: db, log: log}
}

func validateChunks(filename string, chunks []entity.DocumentChunk) error {
	seen := make(map[int]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Filename != "" && c.Filename != filename {
			return common.NewAppError(common.CodeInvalidChunk, fmt.Sprintf("chunk %d belongs to %q", c.ChunkIndex, c.Filename), common.ErrInvalidInput)
		}
		if c.TextContent == "" {
			return common.NewAppError(common.CodeInvalidChunk, fmt.Sprintf("chunk %d has empty text", c.ChunkIndex), common.ErrInvalidInput)
		}
		if c.ChunkIndex < 0 {
			return common.NewAppError(common.CodeInvalidChunk, "negative chunk index", common.ErrInvalidInput)
		}
		if _, dup := seen[c.ChunkIndex]; dup {
			return common.NewAppError(common.CodeInvalidChunk, fmt.Sprintf("duplicate chunk index %d", c.ChunkIndex), common.ErrInvalidInput)
		}
		seen[c.ChunkIndex] = struct{}{}
	}
	return nil
}

func deleteChunks(ctx context.Context, q dialect.ExecQuerier, d, filename string) (int64, error) {
	return execAffected(ctx, q, entsql.Dialect(d).Delete(tableChunks).Where(entsql.EQ("filename", filename)))
}

// replaceChunks deletes every stored chunk for filename and inserts the new set.
// Callers run it inside a transaction.
func replaceChunks(ctx context.Context, q dialect.ExecQuerier, d, filename string, chunks []entity.DocumentChunk) error {
	if _, err := deleteChunks(ctx, q, d, filename); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	ins := entsql.Dialect(d).Insert(tableChunks).
		Columns("filename", "chunk_index", "text_content", "file_type", "upload_date", "chunk_size")
	for _, c := range chunks {
		ins.Values(filename, c.ChunkIndex, c.TextContent, c.FileType, c.UploadDate.UTC(), utf8.RuneCountInString(c.TextContent))
	}
	_, err := execAffected(ctx, q, ins)
	return err
}

func (r *chunkRepo) StoreChunks(ctx context.Context, filename string, chunks []entity.DocumentChunk) error {
	if err := validateChunks(filename, chunks); err != nil {
		return err
	}
	err := r.db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		if err := replaceChunks(ctx, tx, r.db.Dialect(), filename, chunks); err != nil {
			return dbErr("store chunks", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("document_chunks store failed", "filename", filename, "err", err)
		return err
	}
	r.log.Info("document_chunks stored", "filename", filename, "chunks", len(chunks))
	return nil
}

func (r *chunkRepo) GetChunks(ctx context.Context, filename string) ([]entity.DocumentChunk, error) {
	s := entsql.Dialect(r.db.Dialect()).
		Select("filename", "chunk_index", "text_content", "file_type", "upload_date", "chunk_size").
		From(entsql.Table(tableChunks)).
		Where(entsql.EQ("filename", filename)).
		OrderBy(entsql.Asc("chunk_index"))
	out := []entity.DocumentChunk{}
	err := queryRows(ctx, r.db.drv, s, func(rows *entsql.Rows) error {
		var c entity.DocumentChunk
		if err := rows.Scan(&c.Filename, &c.ChunkIndex, &c.TextContent, &c.FileType, &c.UploadDate, &c.ChunkSize); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, dbErr("get chunks", err)
	}
	return out, nil
}

func (r *chunkRepo) DeleteChunks(ctx context.Context, filename string) (int, error) {
	n, err := deleteChunks(ctx, r.db.drv, r.db.Dialect(), filename)
	if err != nil {
		r.log.Error("document_chunks delete failed", "filename", filename, "err", err)
		return 0, dbErr("delete chunks", err)
	}
	r.log.Debug("document_chunks deleted", "filename", filename, "deleted", n)
	return int(n), nil
}
