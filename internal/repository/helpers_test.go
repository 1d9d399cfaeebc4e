package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) (*DB, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(t0)
	db, err := OpenInMemory(context.Background(), quietLogger(), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, clk
}

// setRetryCount writes retry_count directly; production code only increments it through Retry.
func setRetryCount(t *testing.T, db *DB, filename string, n int) {
	t.Helper()
	upd := entsql.Dialect(db.Dialect()).Update(tableJobs).Set("retry_count", n).Where(entsql.EQ("filename", filename))
	_, err := execAffected(context.Background(), db.drv, upd)
	require.NoError(t, err)
}

func sampleChunks(filename string, n int) []entity.DocumentChunk {
	out := make([]entity.DocumentChunk, n)
	for i := range out {
		out[i] = entity.DocumentChunk{
			Filename:    filename,
			ChunkIndex:  i,
			TextContent: fmt.Sprintf("2024-01-%02d COFFEE %d.50", i+1, i),
			FileType:    constants.PDF,
			UploadDate:  t0,
		}
	}
	return out
}
