package chunker

import (
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// Config controls window sizing. All sizes are in runes.
type Config struct {
	Size      int // maximum window length
	Overlap   int // runes shared between consecutive windows
	MinSize   int // shortest non-final window
	Threshold int // documents at or below this length are not chunked
}

// Chunker splits statement text into overlapping windows. It holds no state besides its config.
type Chunker struct {
	cfg Config
}

// DefaultConfig returns the stock window settings.
func DefaultConfig() Config {
	return Config{
		Size:      constants.DefaultChunkSize,
		Overlap:   constants.DefaultChunkOverlap,
		MinSize:   constants.DefaultMinChunkSize,
		Threshold: constants.DefaultBackgroundThreshold,
	}
}

// New returns a Chunker, filling zero values with defaults and clamping
// inconsistent settings so every window makes forward progress.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = constants.DefaultChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = min(constants.DefaultMinChunkSize, cfg.Size/2)
	}
	if cfg.MinSize >= cfg.Size {
		cfg.MinSize = cfg.Size / 2
	}
	if cfg.Overlap > cfg.MinSize {
		cfg.Overlap = cfg.MinSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = constants.DefaultBackgroundThreshold
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// ShouldChunk reports whether text is long enough for the background path.
func (c *Chunker) ShouldChunk(text string) bool {
	return utf8.RuneCountInString(text) > c.cfg.Threshold
}

// Chunk splits text into windows of at most Size runes. A non-final window is cut
// after the last line break past MinSize, or hard-cut at Size when there is none,
// so short fragments are folded into a longer window. The next window starts
// Overlap runes before the previous end. The final window is always emitted.
func (c *Chunker) Chunk(text, filename, fileType string, uploadDate time.Time) []entity.DocumentChunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []entity.DocumentChunk
	start := 0
	for {
		end := c.cut(runes, start)
		out = append(out, entity.DocumentChunk{
			Filename:    filename,
			ChunkIndex:  len(out),
			TextContent: string(runes[start:end]),
			FileType:    fileType,
			UploadDate:  uploadDate,
			ChunkSize:   end - start,
		})
		if end == n {
			return out
		}
		next := end - c.cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
}

func (c *Chunker) cut(runes []rune, start int) int {
	end := start + c.cfg.Size
	if end >= len(runes) {
		return len(runes)
	}
	floor := start + c.cfg.MinSize
	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}
