package artifacts

import (
	"context"
	"fmt"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

// New выбирает хранилище по ARTIFACT_BACKEND
func New(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.ModelFolder)
	case "s3":
		client, err := NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unsupported artifact backend %q", cfg.Backend)
	}
}
