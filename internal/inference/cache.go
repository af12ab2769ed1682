package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/nn"
)

// ModelCache LRU загруженных сетей по имени артефакта
type ModelCache struct {
	store artifacts.Store
	lru   *lru.Cache[string, *nn.Network]
	mu    sync.Mutex // одна загрузка с диска за раз
}

func NewModelCache(store artifacts.Store, size int) (*ModelCache, error) {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[string, *nn.Network](size)
	if err != nil {
		return nil, err
	}
	return &ModelCache{store: store, lru: c}, nil
}

func (c *ModelCache) Get(ctx context.Context, fileName string) (*nn.Network, error) {
	if net, ok := c.lru.Get(fileName); ok {
		metrics.ModelCacheLookups.WithLabelValues("hit").Inc()
		return net, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if net, ok := c.lru.Get(fileName); ok {
		metrics.ModelCacheLookups.WithLabelValues("hit").Inc()
		return net, nil
	}
	metrics.ModelCacheLookups.WithLabelValues("miss").Inc()

	rc, err := c.store.Open(ctx, fileName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	net, err := nn.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", fileName, err)
	}
	c.lru.Add(fileName, net)
	slog.Info("Model loaded", "name", fileName, "width", net.Width, "classes", net.Classes)
	return net, nil
}

func (c *ModelCache) Purge() {
	c.lru.Purge()
	slog.Info("Model cache purged")
}

func (c *ModelCache) Len() int { return c.lru.Len() }
