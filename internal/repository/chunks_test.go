package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

func TestChunks_StoreGetDelete(t *testing.T) {
	db, _ := newTestDB(t)
	chunks := NewChunkRepository(db, quietLogger())
	ctx := context.Background()

	in := sampleChunks("s.pdf", 3)
	// out of order on purpose
	in[0], in[2] = in[2], in[0]
	require.NoError(t, chunks.StoreChunks(ctx, "s.pdf", in))

	got, err := chunks.GetChunks(ctx, "s.pdf")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len([]rune(c.TextContent)), c.ChunkSize)
		assert.True(t, c.UploadDate.Equal(t0))
	}

	n, err := chunks.DeleteChunks(ctx, "s.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = chunks.DeleteChunks(ctx, "s.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChunks_StoreReplacesPreviousSet(t *testing.T) {
	db, _ := newTestDB(t)
	chunks := NewChunkRepository(db, quietLogger())
	ctx := context.Background()

	require.NoError(t, chunks.StoreChunks(ctx, "s.pdf", sampleChunks("s.pdf", 5)))
	require.NoError(t, chunks.StoreChunks(ctx, "s.pdf", sampleChunks("s.pdf", 2)))
	require.NoError(t, chunks.StoreChunks(ctx, "other.pdf", sampleChunks("other.pdf", 1)))

	got, err := chunks.GetChunks(ctx, "s.pdf")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestChunks_UnknownFilenameIsEmpty(t *testing.T) {
	db, _ := newTestDB(t)
	chunks := NewChunkRepository(db, quietLogger())

	got, err := chunks.GetChunks(context.Background(), "nope.pdf")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestChunks_RejectsInvalidInput(t *testing.T) {
	db, _ := newTestDB(t)
	chunks := NewChunkRepository(db, quietLogger())
	ctx := context.Background()

	empty := sampleChunks("s.pdf", 2)
	empty[1].TextContent = ""
	assert.ErrorIs(t, chunks.StoreChunks(ctx, "s.pdf", empty), common.ErrInvalidInput)

	dup := sampleChunks("s.pdf", 2)
	dup[1].ChunkIndex = 0
	assert.ErrorIs(t, chunks.StoreChunks(ctx, "s.pdf", dup), common.ErrInvalidInput)

	foreign := []entity.DocumentChunk{{Filename: "b.pdf", TextContent: "x"}}
	assert.ErrorIs(t, chunks.StoreChunks(ctx, "s.pdf", foreign), common.ErrInvalidInput)
}
