package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/eventbus/pubsubproto"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/linkedin/goavro/v2"
)

type SchemaFetcher interface {
	GetSchema(ctx context.Context, schemaId string) (*pubsubproto.SchemaInfo, error)
}

// SchemaCache resolves schema ids to compiled Avro codecs.  Entries expire
// on a TTL so schema updates on the broker side eventually win.  The lock
// is held across the fetch so concurrent lookups of the same id produce a
// single broker round trip.
type SchemaCache struct {
	fetcher SchemaFetcher

	lock   sync.Mutex
	codecs *expirable.LRU[string, *goavro.Codec]
}

func NewSchemaCache(cfg *config.Config, fetcher SchemaFetcher) *SchemaCache {
	return &SchemaCache{
		fetcher: fetcher,
		codecs:  expirable.NewLRU[string, *goavro.Codec](cfg.SchemaCacheSize, nil, cfg.SchemaCacheTtl),
	}
}

func (c *SchemaCache) GetCodec(ctx context.Context, schemaId string) (*goavro.Codec, error) {

	c.lock.Lock()
	defer c.lock.Unlock()

	codec, found := c.codecs.Get(schemaId)
	if found {
		metrics.schemaCacheHitCounter.Inc()
		return codec, nil
	}

	metrics.schemaCacheMissCounter.Inc()

	schemaInfo, err := c.fetcher.GetSchema(ctx, schemaId)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch schema %s: %w", schemaId, err)
	}

	codec, err = goavro.NewCodec(schemaInfo.SchemaJson)
	if err != nil {
		return nil, fmt.Errorf("unable to compile schema %s: %w", schemaId, err)
	}

	c.codecs.Add(schemaId, codec)

	return codec, nil
}
