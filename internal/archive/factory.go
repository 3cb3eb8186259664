package archive

import (
	"context"
	"fmt"

	"pqi-go/internal/config"
	"pqi-go/internal/pqi"
)

// NewArchiveFromConfig creates an Archive implementation based on the archive
// config type and verifies the backend is reachable before handing it out.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (pqi.Archive, error) {
	var (
		a   pqi.Archive
		err error
	)
	switch cfg.Type {
	case "memory":
		a = NewMemoryArchive(cfg.Name)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 archive requires s3_bucket to be set")
		}
		a, err = NewS3Archive(ctx, cfg.Name, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretAccessKey)
	case "filesystem":
		if cfg.FSArchiveRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_archive_root to be set")
		}
		a, err = NewFileSystemArchive(cfg.Name, cfg.FSArchiveRoot)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := a.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("validating archive %q: %w", cfg.Name, err)
	}
	return a, nil
}
