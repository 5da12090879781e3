package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces ledger keys.
const DefaultRedisPrefix = "dealfinder:ledger"

// connectionTimeout bounds the initial ping.
const connectionTimeout = 5 * time.Second

// entryFields is the number of ARGV slots one entry occupies in markScript.
const entryFields = 7

// markScript adds entries whose URL is not in the index set yet. KEYS[1] is
// the index, KEYS[2..] the per-entry hashes. Returns how many were added.
var markScript = redis.NewScript(`
local added = 0
for i = 2, #KEYS do
  local base = (i - 2) * 7
  local url = ARGV[base + 1]
  if redis.call('SADD', KEYS[1], url) == 1 then
    redis.call('HSET', KEYS[i],
      'url', url,
      'source', ARGV[base + 2],
      'published_at', ARGV[base + 3],
      'outcome', ARGV[base + 4],
      'canonical_key', ARGV[base + 5],
      'run_id', ARGV[base + 6],
      'processed_at', ARGV[base + 7])
    added = added + 1
  end
end
return added
`)

// RedisLedger stores the ledger in Redis: a set of processed URLs plus one
// hash per URL holding its metadata, keyed by the URL's sha256.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedis wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisLedger {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLedger{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenRedis connects to the redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string, logger *zap.Logger) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, prefix, logger), nil
}

func (l *RedisLedger) indexKey() string {
	return l.prefix + ":urls"
}

func (l *RedisLedger) entryKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return l.prefix + ":entry:" + hex.EncodeToString(sum[:])
}

// IsProcessed implements Ledger.
func (l *RedisLedger) IsProcessed(ctx context.Context, url string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.indexKey(), url).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return ok, nil
}

// MarkProcessed implements Ledger.
func (l *RedisLedger) MarkProcessed(ctx context.Context, url string, meta Metadata) error {
	return l.MarkBatch(ctx, []Entry{{URL: url, Metadata: meta}})
}

// MarkBatch implements Ledger. The whole batch is applied by one script, so
// it is atomic.
func (l *RedisLedger) MarkBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries)+1)
	args := make([]interface{}, 0, len(entries)*entryFields)
	keys = append(keys, l.indexKey())
	for _, e := range entries {
		if e.URL == "" {
			return fmt.Errorf("cannot ledger an empty url")
		}
		if e.ProcessedAt.IsZero() {
			e.ProcessedAt = l.now()
		}
		keys = append(keys, l.entryKey(e.URL))
		args = append(args,
			e.URL,
			e.Source,
			formatTime(e.PublishedAt),
			string(e.Outcome),
			e.CanonicalKey,
			e.RunID,
			e.ProcessedAt.Format(time.RFC3339Nano))
	}

	added, err := markScript.Run(ctx, l.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to mark urls processed: %w", err)
	}
	l.logger.Debug("ledgered urls", zap.Int("batch", len(entries)), zap.Int("added", added))
	return nil
}

// Get implements Ledger.
func (l *RedisLedger) Get(ctx context.Context, url string) (Entry, bool, error) {
	fields, err := l.client.HGetAll(ctx, l.entryKey(url)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	e, err := parseEntry(fields)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Entries implements Ledger.
func (l *RedisLedger) Entries(ctx context.Context) ([]Entry, error) {
	urls, err := l.client.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	if len(urls) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(urls))
	_, err = l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, url := range urls {
			cmds[i] = pipe.HGetAll(ctx, l.entryKey(url))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}

	out := make([]Entry, 0, len(urls))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index without metadata; still processed
			out = append(out, Entry{URL: urls[i]})
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Stats implements Ledger.
func (l *RedisLedger) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(entries), nil
}

// Reset implements Ledger.
func (l *RedisLedger) Reset(ctx context.Context) error {
	urls, err := l.client.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list ledger: %w", err)
	}
	keys := make([]string, 0, len(urls)+1)
	keys = append(keys, l.indexKey())
	for _, url := range urls {
		keys = append(keys, l.entryKey(url))
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	l.logger.Info("ledger reset", zap.String("prefix", l.prefix), zap.Int("removed", len(urls)))
	return nil
}

// Close implements Ledger.
func (l *RedisLedger) Close() error {
	err := l.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseEntry(fields map[string]string) (Entry, error) {
	e := Entry{
		URL: fields["url"],
		Metadata: Metadata{
			Source:       fields["source"],
			Outcome:      Outcome(fields["outcome"]),
			CanonicalKey: fields["canonical_key"],
			RunID:        fields["run_id"],
		},
	}
	if v := fields["published_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid published_at for %s: %w", e.URL, err)
		}
		e.PublishedAt = &t
	}
	if v := fields["processed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid processed_at for %s: %w", e.URL, err)
		}
		e.ProcessedAt = t
	}
	return e, nil
}
