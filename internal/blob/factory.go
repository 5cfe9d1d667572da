package blob

import (
	"context"
	"fmt"

	fsstore "passcore/internal/infra/blob/fs"
	memorystore "passcore/internal/infra/blob/memory"
	s3store "passcore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 backend configuration.
type S3Config = s3store.Config

// Config selects and configures a backend.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FSRoot string   `yaml:"fsRoot"`
	S3     S3Config `yaml:"s3"`
}

// Open returns the Store selected by cfg. An empty driver selects the
// filesystem backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
