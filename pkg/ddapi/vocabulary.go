package ddapi

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
)

// CacheTTL is how long vocabulary responses stay fresh. Metric and tag
// inventories move slowly; 30 seconds keeps typing snappy without
// hammering the API.
const CacheTTL = 30 * time.Second

// maxConcurrentRequests bounds in-flight Datadog calls per org.
const maxConcurrentRequests = 5

// Vocabulary adapts a Client to the autocomplete controller's vocabulary
// interface, adding a TTL cache and a concurrency limit.
type Vocabulary struct {
	client    *Client
	cache     *gocache.Cache
	semaphore chan struct{}
}

var _ autocomplete.Vocabulary = (*Vocabulary)(nil)

// NewVocabulary wraps a client with caching.
func NewVocabulary(client *Client) *Vocabulary {
	return &Vocabulary{
		client:    client,
		cache:     gocache.New(CacheTTL, time.Minute),
		semaphore: make(chan struct{}, maxConcurrentRequests),
	}
}

// MetricNames returns the cached metric-name vocabulary, fetching on
// miss.
func (v *Vocabulary) MetricNames(ctx context.Context) ([]string, error) {
	if cached, ok := v.cache.Get("metrics"); ok {
		return cached.([]string), nil
	}
	if err := v.acquire(ctx); err != nil {
		return nil, err
	}
	defer v.release()

	metrics, err := v.client.MetricNames(ctx)
	if err != nil {
		return nil, err
	}
	v.cache.SetDefault("metrics", metrics)
	return metrics, nil
}

// TagKeys returns the unique tag keys of a metric.
func (v *Vocabulary) TagKeys(ctx context.Context, metric string) ([]string, error) {
	raw, err := v.rawTags(ctx, metric)
	if err != nil {
		return nil, err
	}
	return TagKeys(raw), nil
}

// TagValues returns the values of one tag key on a metric.
func (v *Vocabulary) TagValues(ctx context.Context, metric, key string) ([]string, error) {
	raw, err := v.rawTags(ctx, metric)
	if err != nil {
		return nil, err
	}
	return TagValues(raw, key), nil
}

// RawTags exposes the cached "key:value" tag list for a metric, as the
// resource endpoints serve it unsplit.
func (v *Vocabulary) RawTags(ctx context.Context, metric string) ([]string, error) {
	return v.rawTags(ctx, metric)
}

func (v *Vocabulary) rawTags(ctx context.Context, metric string) ([]string, error) {
	cacheKey := "tags:" + metric
	if cached, ok := v.cache.Get(cacheKey); ok {
		return cached.([]string), nil
	}
	if err := v.acquire(ctx); err != nil {
		return nil, err
	}
	defer v.release()

	tags, err := v.client.MetricTags(ctx, metric)
	if err != nil {
		return nil, err
	}
	v.cache.SetDefault(cacheKey, tags)
	return tags, nil
}

func (v *Vocabulary) acquire(ctx context.Context) error {
	select {
	case v.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Vocabulary) release() {
	<-v.semaphore
}
