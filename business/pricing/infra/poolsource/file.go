package poolsource

import (
	"context"
	"os"
	"time"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/logger"
)

var _ app.PoolSource = (*FileSource)(nil)

// FileSource reads a Document from disk on every fetch.
type FileSource struct {
	path   string
	logger logger.LoggerInterface
	now    func() time.Time
}

// NewFileSource creates a source for path.
func NewFileSource(path string, log logger.LoggerInterface) (*FileSource, error) {
	if path == "" {
		return nil, apperror.Configuration("pool source file path is required")
	}
	return &FileSource{path: path, logger: log, now: time.Now}, nil
}

// FetchPools implements app.PoolSource.
func (s *FileSource) FetchPools(ctx context.Context) (*domain.PoolSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperror.External(apperror.CodePoolSourceFailed, "read "+s.path, err)
	}

	set, warnings, err := Decode(raw, s.now())
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodePoolSourceFailed, s.path)
	}
	logWarnings(ctx, s.logger, "file", warnings)
	return set, nil
}

func logWarnings(ctx context.Context, log logger.LoggerInterface, source string, warnings []error) {
	for _, w := range warnings {
		log.Warn(ctx, "pool document token skipped", "source", source, "error", w)
	}
}
