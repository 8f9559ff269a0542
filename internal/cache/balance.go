package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultBalanceTTL    = 5 * time.Minute
	defaultGenerationTTL = 24 * time.Hour
)

// balanceFillScript writes the balance only while the generation still
// matches the one observed before the database read. A missing generation
// key counts as "0".
const balanceFillScript = `
local gen = redis.call("GET", KEYS[2])
if not gen then gen = "0" end
if gen ~= ARGV[2] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`

const balanceInvalidateScript = `
for i = 1, #KEYS, 2 do
  redis.call("DEL", KEYS[i])
  redis.call("INCR", KEYS[i + 1])
  redis.call("PEXPIRE", KEYS[i + 1], ARGV[1])
end
return 1
`

// Lookup is a cache read. On a miss Generation must be handed back to Set so
// a fill racing an invalidation is discarded.
type Lookup struct {
	Balance    int64
	Hit        bool
	Generation int64
}

// BalanceCache holds read-through copies of customer point balances. It is
// never the source of truth: writers invalidate after commit.
type BalanceCache interface {
	Get(ctx context.Context, customerID snowflake.ID) (Lookup, error)
	// Set stores balance unless the customer was invalidated after
	// generation was read. It reports whether the value was stored.
	Set(ctx context.Context, customerID snowflake.ID, balance, generation int64) (bool, error)
	Invalidate(ctx context.Context, customerIDs ...snowflake.ID) error
}

type redisBalanceCache struct {
	client     *redis.Client
	ttl        time.Duration
	genTTL     time.Duration
	fill       *redis.Script
	invalidate *redis.Script
}

// NewBalanceCache returns nil when client is nil.
func NewBalanceCache(client *redis.Client) BalanceCache {
	if client == nil {
		return nil
	}
	return &redisBalanceCache{
		client:     client,
		ttl:        defaultBalanceTTL,
		genTTL:     defaultGenerationTTL,
		fill:       redis.NewScript(balanceFillScript),
		invalidate: redis.NewScript(balanceInvalidateScript),
	}
}

func BalanceKey(customerID snowflake.ID) string {
	return "loyalty:balance:" + customerID.String()
}

func BalanceGenerationKey(customerID snowflake.ID) string {
	return "loyalty:balance:gen:" + customerID.String()
}

func (c *redisBalanceCache) Get(ctx context.Context, customerID snowflake.ID) (Lookup, error) {
	vals, err := c.client.MGet(ctx, BalanceKey(customerID), BalanceGenerationKey(customerID)).Result()
	if err != nil {
		return Lookup{}, err
	}
	gen, err := parseCounter(vals[1])
	if err != nil {
		return Lookup{}, err
	}
	if vals[0] == nil {
		return Lookup{Generation: gen}, nil
	}
	balance, err := parseCounter(vals[0])
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{Balance: balance, Hit: true, Generation: gen}, nil
}

func (c *redisBalanceCache) Set(ctx context.Context, customerID snowflake.ID, balance, generation int64) (bool, error) {
	stored, err := c.fill.Run(ctx, c.client,
		[]string{BalanceKey(customerID), BalanceGenerationKey(customerID)},
		balance, generation, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, customerIDs ...snowflake.ID) error {
	if len(customerIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(customerIDs))
	for _, id := range customerIDs {
		keys = append(keys, BalanceKey(id), BalanceGenerationKey(id))
	}
	return c.invalidate.Run(ctx, c.client, keys, c.genTTL.Milliseconds()).Err()
}

func parseCounter(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unexpected cache value type")
	}
}
