package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend speaks to a Redis server with the RedisJSON module loaded.
// Documents are JSON values, batches are MULTI/EXEC transactions, locks are
// SET NX PX keys released through a token-guarded script.
type redisBackend struct {
	rdb redis.UniversalClient
}

// NewRedis wraps an existing go-redis client.
func NewRedis(rdb redis.UniversalClient) Backend {
	return &redisBackend{rdb: rdb}
}

// DialRedis connects to the given redis:// URL.
func DialRedis(url string) (Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: invalid redis URL: %w", err)
	}
	return &redisBackend{rdb: redis.NewClient(opts)}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// objPopScript removes one object entry and returns {field, raw}. A false
// reply means the document, path, or requested field is missing; a 0 reply
// means the object exists but has no entries left.
var objPopScript = redis.NewScript(`
local field = ARGV[2]
if field == "" then
	local ks = redis.pcall("JSON.OBJKEYS", KEYS[1], ARGV[1])
	if type(ks) ~= "table" or ks.err ~= nil then
		return false
	end
	if #ks == 0 then
		return 0
	end
	field = ks[1]
end
local child = ARGV[1]
if child == "." then
	child = ""
end
child = child .. '["' .. string.gsub(field, '"', '\\"') .. '"]'
local raw = redis.pcall("JSON.GET", KEYS[1], child)
if type(raw) ~= "string" then
	return false
end
redis.call("JSON.DEL", KEYS[1], child)
return {field, raw}
`)

// legacyPath converts the canonical "$..." form into RedisJSON legacy path
// syntax, which yields unwrapped scalar replies.
func legacyPath(path string) string {
	p := strings.TrimPrefix(path, "$")
	if p == "" {
		return "."
	}
	return p
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// RedisJSON signals missing documents and paths only through error text,
	// with the wording varying across module versions.
	msg := err.Error()
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "doesn't exist") {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (b *redisBackend) GetDoc(ctx context.Context, key string) ([]byte, error) {
	return b.GetPath(ctx, key, "$")
}

func (b *redisBackend) GetPath(ctx context.Context, key, path string) ([]byte, error) {
	res, err := b.rdb.JSONGet(ctx, key, legacyPath(path)).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	if res == "" {
		return nil, ErrNotFound
	}
	return []byte(res), nil
}

func (b *redisBackend) MGetDocs(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := b.rdb.JSONMGet(ctx, ".", keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, mapErr(err)
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if i >= len(out) {
			break
		}
		if s, ok := v.(string); ok && s != "" {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (b *redisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := b.rdb.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (b *redisBackend) ObjKeys(ctx context.Context, key, path string) ([]string, error) {
	vals, err := b.rdb.JSONObjKeys(ctx, key, legacyPath(path)).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	keys := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

func (b *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (b *redisBackend) IncrBy(ctx context.Context, key, path string, delta float64) (float64, error) {
	res, err := b.rdb.JSONNumIncrBy(ctx, key, legacyPath(path), delta).Result()
	if err != nil {
		return 0, mapErr(err)
	}
	var n float64
	if _, err := fmt.Sscanf(res, "%g", &n); err != nil {
		return 0, fmt.Errorf("%w: bad incr reply %q", ErrTransport, res)
	}
	return n, nil
}

func (b *redisBackend) ArrPop(ctx context.Context, key, path string, index int) ([]byte, error) {
	vals, err := b.rdb.JSONArrPop(ctx, key, legacyPath(path), index).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, mapErr(err)
	}
	if len(vals) == 0 || vals[0] == "" {
		return nil, ErrEmpty
	}
	return []byte(vals[0]), nil
}

func (b *redisBackend) ObjPop(ctx context.Context, key, path, field string) (string, []byte, error) {
	res, err := objPopScript.Run(ctx, b.rdb, []string{key}, legacyPath(path), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrNotFound
		}
		return "", nil, mapErr(err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return "", nil, ErrEmpty
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return "", nil, fmt.Errorf("%w: bad pop reply %v", ErrTransport, res)
	}
	name, _ := pair[0].(string)
	raw, _ := pair[1].(string)
	if name == "" || raw == "" {
		return "", nil, fmt.Errorf("%w: bad pop reply %v", ErrTransport, res)
	}
	return name, []byte(raw), nil
}

func (b *redisBackend) Apply(ctx context.Context, cmd Command) error {
	if err := applyOn(ctx, b.rdb, cmd); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *redisBackend) Exec(ctx context.Context, cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}
	pipe := b.rdb.TxPipeline()
	for _, cmd := range cmds {
		if err := applyOn(ctx, pipe, cmd); err != nil {
			return mapErr(err)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// applyOn issues one command against either the client or a pipeline.
func applyOn(ctx context.Context, c redis.Cmdable, cmd Command) error {
	path := legacyPath(cmd.Path)
	switch cmd.Op {
	case OpSet:
		return c.JSONSet(ctx, cmd.Key, path, string(cmd.Args[0])).Err()
	case OpDel:
		return c.JSONDel(ctx, cmd.Key, path).Err()
	case OpDelDoc:
		return c.Del(ctx, cmd.Key).Err()
	case OpArrAppend:
		return c.JSONArrAppend(ctx, cmd.Key, path, rawArgs(cmd.Args)...).Err()
	case OpArrInsert:
		return c.JSONArrInsert(ctx, cmd.Key, path, int64(cmd.Index), rawArgs(cmd.Args)...).Err()
	case OpClear:
		return c.JSONClear(ctx, cmd.Key, path).Err()
	case OpMerge:
		return c.JSONMerge(ctx, cmd.Key, path, string(cmd.Args[0])).Err()
	default:
		return fmt.Errorf("store: unknown op %d", cmd.Op)
	}
}

func rawArgs(args [][]byte) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

func (b *redisBackend) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (b *redisBackend) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if err := releaseScript.Run(ctx, b.rdb, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return mapErr(err)
	}
	return nil
}
