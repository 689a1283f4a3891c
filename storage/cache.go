package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"unity-api/domain"
)

type backend interface {
	Load(ctx context.Context, taskID string) (domain.Task, error)
	LoadBySubtask(ctx context.Context, subtaskID string) (domain.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Task, error)
	Insert(ctx context.Context, t domain.Task) error
	Save(ctx context.Context, t domain.Task, expectedVersion int64) error
}

// Cache wraps the aggregate store with Redis-backed caching for reads.
// Commits go straight through and evict, so a fetch right after a mutation
// always sees the committed state. Every eviction bumps a per-key generation
// counter and read-side fills are fenced on the generation observed before
// the backend read, so a reader that raced a commit cannot re-populate the
// cache with the pre-commit aggregate.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context, taskID string) (domain.Task, error) {
	if t, ok := c.loadFromCache(ctx, taskID); ok {
		return t, nil
	}
	gen := c.generation(ctx, taskGenKey(taskID))
	t, err := c.base.Load(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	c.store(ctx, t, gen)
	return t, nil
}

// LoadBySubtask always resolves through the backing store. The parent id is
// not known before the read, so there is no generation to fence a fill on;
// the result is returned uncached.
func (c *Cache) LoadBySubtask(ctx context.Context, subtaskID string) (domain.Task, error) {
	return c.base.LoadBySubtask(ctx, subtaskID)
}

func (c *Cache) ListByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	if tasks, ok := c.loadProjectFromCache(ctx, projectID); ok {
		return tasks, nil
	}
	gen := c.generation(ctx, projectGenKey(projectID))
	tasks, err := c.base.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.storeProject(ctx, projectID, tasks, gen)
	return tasks, nil
}

func (c *Cache) Insert(ctx context.Context, t domain.Task) error {
	if err := c.base.Insert(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t)
	return nil
}

func (c *Cache) Save(ctx context.Context, t domain.Task, expectedVersion int64) error {
	if err := c.base.Save(ctx, t, expectedVersion); err != nil {
		return err
	}
	c.evict(ctx, t)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, taskID string) (domain.Task, bool) {
	if c.redis == nil {
		return domain.Task{}, false
	}
	data, err := c.redis.Get(ctx, taskCacheKey(taskID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
		}
		return domain.Task{}, false
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
		return domain.Task{}, false
	}
	return t, true
}

func (c *Cache) loadProjectFromCache(ctx context.Context, projectID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, projectCacheKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, projectCacheKey(projectID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, projectCacheKey(projectID)).Err()
		return nil, false
	}
	return tasks, true
}

// fillScript sets the cache entry only while the generation counter still
// holds the value the reader saw before its backend read. An eviction in
// between bumps the counter and the fill becomes a no-op, which keeps a
// pre-commit aggregate from resurrecting after the commit evicted it.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if gen == false then gen = '0' end
if gen ~= ARGV[1] then return 0 end
if ARGV[3] ~= '0' then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// generation reads the current eviction counter for a cache key. A missing
// counter reads as "0"; on redis errors the sentinel "" never matches inside
// the fill script, so the fill is skipped.
func (c *Cache) generation(ctx context.Context, genKey string) string {
	if c.redis == nil {
		return ""
	}
	v, err := c.redis.Get(ctx, genKey).Result()
	if err == redis.Nil {
		return "0"
	}
	if err != nil {
		return ""
	}
	return v
}

func (c *Cache) store(ctx context.Context, t domain.Task, gen string) {
	if c.redis == nil || c.ttl == 0 || gen == "" {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	c.fill(ctx, taskGenKey(t.ID), taskCacheKey(t.ID), gen, data)
}

func (c *Cache) storeProject(ctx context.Context, projectID string, tasks []domain.Task, gen string) {
	if c.redis == nil || c.ttl == 0 || gen == "" {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	c.fill(ctx, projectGenKey(projectID), projectCacheKey(projectID), gen, data)
}

func (c *Cache) fill(ctx context.Context, genKey, dataKey, gen string, data []byte) {
	ttlMillis := strconv.FormatInt(c.ttl.Milliseconds(), 10)
	_ = fillScript.Run(ctx, c.redis, []string{genKey, dataKey}, gen, data, ttlMillis).Err()
}

// genKeyTTL bounds how long eviction counters linger after the last commit.
// It only needs to outlive any in-flight read that started before the commit.
const genKeyTTL = time.Hour

func (c *Cache) evict(ctx context.Context, t domain.Task) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.Pipeline()
	pipe.Del(ctx, taskCacheKey(t.ID), projectCacheKey(t.ProjectID))
	pipe.Incr(ctx, taskGenKey(t.ID))
	pipe.Expire(ctx, taskGenKey(t.ID), genKeyTTL)
	pipe.Incr(ctx, projectGenKey(t.ProjectID))
	pipe.Expire(ctx, projectGenKey(t.ProjectID), genKeyTTL)
	_, _ = pipe.Exec(ctx)
}

func taskCacheKey(taskID string) string {
	return "task:" + taskID
}

func taskGenKey(taskID string) string {
	return "task-gen:" + taskID
}

func projectCacheKey(projectID string) string {
	return "project-tasks:" + projectID
}

func projectGenKey(projectID string) string {
	return "project-gen:" + projectID
}
