package storage

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"

	"github.com/redis/go-redis/extra/redisotel/v9" // Redis OpenTelemetry钩子包
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("pdf-scraper/storage/redis")

// Redis操作前缀采样率配置
var redisKeySamplingRates = map[string]float64{
	"app:extract:": 0.25, // 提取模块操作采样25%
	"app:file:":    0.1,  // 文件模块操作采样10%
	"lock:":        0.5,  // 锁操作采样50%
	"cache:":       0.01, // 缓存操作采样1%
}

// 随机数生成器
var (
	rnd      *rand.Rand
	rndMutex sync.Mutex
)

// 初始化随机数生成器
func init() {
	source := rand.NewSource(time.Now().UnixNano())
	rnd = rand.New(source)
}

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	// key为空一定不采样
	if key == "" {
		return false
	}

	// 遍历前缀采样率配置
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			// 使用线程安全的随机数
			return randFloat() < rate
		}
	}

	// 默认采样率5%
	return randFloat() < 0.05
}

// 生成0-1之间的随机数
func randFloat() float64 {
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64()
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	// 使用扩展的配置选项
	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,     // 默认10
		MinIdleConns: cfg.MinIdleConns, // 默认2

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,  // 默认5秒
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,  // 默认3秒
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second, // 默认3秒

		// 重试设置
		MaxRetries:      cfg.MaxRetries,                                          // 默认3次
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond, // 默认8毫秒
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond, // 默认512毫秒

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute, // 默认60分钟
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute, // 默认30分钟
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	// Ping to check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365 // 默认1年
	}
	return time.Duration(days) * 24 * time.Hour
}

// IncrementRateWindow 固定窗口限流：递增调用方计数并返回递增后的值
// 窗口key首次创建时设置过期时间，窗口到期后计数自动清零
func (r *Redis) IncrementRateWindow(ctx context.Context, callerID string, window time.Duration) (int64, error) {
	if r.Client == nil {
		return 0, fmt.Errorf("redis client is not initialized")
	}

	key := fmt.Sprintf(constants.KeyExtractRateWindow, callerID)

	ctx, span := redisTracer.Start(ctx, "Redis.IncrementRateWindow",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", "EVAL"),
		attribute.String("db.redis.key", key),
	)

	// INCR + 首次设置过期，Lua脚本保证原子性
	script := `
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('EXPIRE', KEYS[1], ARGV[1])
		end
		return count
	`

	res, err := r.Client.Eval(ctx, script, []string{key}, int(window.Seconds())).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("执行限流计数失败: %w", err)
	}

	count, ok := res.(int64)
	if !ok {
		err := fmt.Errorf("意外的Redis返回类型: %T", res)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int64("rate.window_count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// GetRateWindowCount 读取调用方当前窗口内的计数，key不存在时返回0
func (r *Redis) GetRateWindowCount(ctx context.Context, callerID string) (int64, error) {
	if r.Client == nil {
		return 0, fmt.Errorf("redis client is not initialized")
	}
	key := fmt.Sprintf(constants.KeyExtractRateWindow, callerID)
	val, err := r.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// CheckAndAddFileMD5 检查并添加文件MD5到去重集合，是一个原子操作
// 返回该MD5此前是否已存在，以及已存在时关联的简历记录ID
func (r *Redis) CheckAndAddFileMD5(ctx context.Context, md5Hex string, resumeID string) (exists bool, existingID string, err error) {
	// 创建一个命名span
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndAddFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// 添加属性
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.redis.database", fmt.Sprintf("%d", r.config.DB)),
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", "EVAL"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("db.redis.member", md5Hex),
	)

	// 验证客户端是否初始化
	if r.Client == nil {
		err = fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", err
	}

	setKey := constants.KeyFileMD5Set
	mapKey := fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex)
	expiry := int(r.GetMD5ExpireDuration().Seconds())

	// Lua脚本原子完成: 检查集合成员、添加成员、写映射、续期
	script := `
		local exists = redis.call('SISMEMBER', KEYS[1], ARGV[1])
		if exists == 1 then
			return redis.call('GET', KEYS[2])
		end
		redis.call('SADD', KEYS[1], ARGV[1])
		redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
		redis.call('EXPIRE', KEYS[1], ARGV[3])
		return false
	`

	res, err := r.Client.Eval(ctx, script, []string{setKey, mapKey}, md5Hex, resumeID, expiry).Result()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", fmt.Errorf("执行原子检查和添加操作失败: %w", err)
	}

	// Lua返回false(即nil)表示新MD5，返回字符串表示已存在的记录ID
	if res == nil {
		span.SetAttributes(attribute.Bool("already_exists", false))
		span.SetStatus(codes.Ok, "")
		return false, "", nil
	}

	existingID, _ = res.(string)
	span.SetAttributes(attribute.Bool("already_exists", true))
	span.SetStatus(codes.Ok, "")
	return true, existingID, nil
}

// RemoveFileMD5 从去重集合中移除文件MD5，删除简历记录时调用
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	// 创建一个命名span
	ctx, span := redisTracer.Start(ctx, "Redis.RemoveFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// 添加属性
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.redis.database", fmt.Sprintf("%d", r.config.DB)),
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", "SREM"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("db.redis.member", md5Hex),
	)

	pipe := r.Client.Pipeline()
	remCmd := pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex))
	_, err := pipe.Exec(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("从集合中移除MD5失败: %w", err)
	}

	span.SetAttributes(attribute.Int64("removed_count", remCmd.Val()))
	span.SetStatus(codes.Ok, "")

	return nil
}

// Get 获取键的值
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	// 检查客户端是否已初始化
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span

	// 根据key前缀决定是否创建span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Get", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "GET"),
			attribute.String("db.redis.key", key),
			// 设置标志位，表示不要在子span中传播，避免与redisotel hook产生的span重复
			attribute.Bool("otel.propagate_to_child", false),
		)
	}

	// 执行Get操作
	val, err := r.Client.Get(ctx, key).Result()

	// 如果span被创建，则记录结果
	if span != nil {
		if err != nil {
			// 对于key不存在的情况，不应该算作错误
			if err == redis.Nil {
				span.SetStatus(codes.Ok, "key not found")
				span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
			} else {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return "", err
		}

		span.SetAttributes(
			attribute.Bool("db.redis.key_exists", true),
			attribute.Int("db.redis.value_length", len(val)),
		)
		span.SetStatus(codes.Ok, "")
	}

	return val, err
}

// Set 设置键的值
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	// 检查客户端是否已初始化
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span

	// 根据key前缀决定是否创建span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Set", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "SET"),
			attribute.String("db.redis.key", key),
			attribute.Int("db.redis.value_length", len(value)),
			// 设置标志位，表示不要在子span中传播，避免与redisotel hook产生的span重复
			attribute.Bool("otel.propagate_to_child", false),
		)

		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	// 执行Set操作
	err := r.Client.Set(ctx, key, value, expiration).Err()

	// 如果span被创建，则记录结果
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// AcquireLock 尝试获取一个分布式锁
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	// 生成一个随机值作为锁的持有者标识
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	// 尝试设置一个带过期时间的key，NX保证了原子性
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		// 成功获取锁
		return lockValue, nil
	}
	// 未能获取锁
	return "", nil
}

// ReleaseLock 释放一个分布式锁，使用Lua脚本保证原子性
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	// Lua脚本: 如果key存在且值匹配，则删除key
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil // 成功释放
	}

	return false, nil // 锁不存在或不属于当前持有者
}
