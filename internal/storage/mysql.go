package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("pdf-scraper/storage/mysql")

// ErrStatusConflict 表示状态迁移被单向状态机拒绝
var ErrStatusConflict = errors.New("记录状态不允许该迁移")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	// 为各种操作类型注册回调
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 如果是错误跳过且DisableErrSkip为true，则跳过追踪
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		// 从DB获取上下文
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		// 获取操作表名，如果为空则使用"unknown"
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		// 创建一个新的span
		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		// 获取SQL语句（如果有）
		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, "otel-span", span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 从DB上下文中获取span
		span, ok := db.Statement.Context.Value("otel-span").(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		// 添加额外的属性
		if db.Statement.RowsAffected > 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		} else {
			span.SetAttributes(attribute.Int64("db.rows_affected", 0))
		}

		// 记录错误（如果有），但正确处理ErrRecordNotFound
		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				// 真正的错误情况
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.SetAttributes(attribute.String("error.message", db.Error.Error()))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		dbSystem:       "mysql",
		disableErrSkip: true, // 默认禁用错误跳过，减少误报错误
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// Database 关系数据库接口
type Database interface {
	// DB 返回GORM数据库连接实例
	DB() *gorm.DB

	// Close 关闭数据库连接
	Close() error
}

// 确保MySQL实现了Database接口
var _ Database = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info // 默认Info级别
	}

	// GORM配置增强
	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,                             // 禁用自动外键创建
		Logger:                                   logger.Default.LogMode(logLevel), // 设置日志级别
		PrepareStmt:                              true,                             // 开启预编译语句缓存
		NowFunc: func() time.Time {
			return time.Now().Local() // 使用本地时间作为默认时间
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)                                           // 最大空闲连接数
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)                                           // 最大打开连接数
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute) // 连接最大生命周期
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute) // 空闲连接最大生命周期

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	tracingPlugin := NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 使用 GORM 的 AutoMigrate 功能自动迁移表结构
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB, _ := db.DB() // 尝试获取底层 *sql.DB 以关闭
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	// 保存当前的日志级别
	currentLogger := m.db.Logger

	// 创建一个静默的logger以关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent, // 设置为Silent级别，关闭所有SQL日志
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	// 创建一个使用静默日志记录器的DB会话
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	// 列出所有需要迁移的模型
	err := silentDB.AutoMigrate(
		&models.ResumeRecord{},
		&models.ExtractionAttempt{},
	)

	// 恢复原来的日志记录器
	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	log.Println("GORM数据库结构迁移成功")
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateResumeRecord 新建一条PENDING状态的简历记录
func (m *MySQL) CreateResumeRecord(ctx context.Context, record *models.ResumeRecord) error {
	if record == nil {
		return fmt.Errorf("记录不能为空")
	}
	if record.Status == "" {
		record.Status = constants.StatusPending
	}
	return m.db.WithContext(ctx).Create(record).Error
}

// GetResumeByID 通过ResumeID获取简历记录
func (m *MySQL) GetResumeByID(ctx context.Context, resumeID string) (*models.ResumeRecord, error) {
	var record models.ResumeRecord
	if err := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindResumeByMD5 通过文件MD5查找最近的简历记录，用于上传去重
func (m *MySQL) FindResumeByMD5(ctx context.Context, md5 string) (*models.ResumeRecord, error) {
	var record models.ResumeRecord
	err := m.db.WithContext(ctx).
		Where("file_md5 = ?", md5).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListResumes 按创建时间倒序分页列出简历记录，cursor 为偏移量
func (m *MySQL) ListResumes(ctx context.Context, callerID string, cursor int64, size int64) ([]models.ResumeRecord, int64, error) {
	if size <= 0 || size > 100 {
		size = 20
	}

	query := m.db.WithContext(ctx).Model(&models.ResumeRecord{})
	if callerID != "" {
		query = query.Where("caller_id = ?", callerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计简历记录失败: %w", err)
	}

	var records []models.ResumeRecord
	err := query.Order("created_at DESC").Offset(int(cursor)).Limit(int(size)).Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询简历记录失败: %w", err)
	}
	return records, total, nil
}

// CountResumesByStatus 按状态统计简历记录数量，用于仪表盘
func (m *MySQL) CountResumesByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	err := m.db.WithContext(ctx).
		Model(&models.ResumeRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("按状态统计失败: %w", err)
	}

	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}

// DeleteResume 删除简历记录及其全部提取尝试
func (m *MySQL) DeleteResume(ctx context.Context, resumeID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resume_id = ?", resumeID).Delete(&models.ExtractionAttempt{}).Error; err != nil {
			return fmt.Errorf("删除提取尝试失败: %w", err)
		}
		result := tx.Where("resume_id = ?", resumeID).Delete(&models.ResumeRecord{})
		if result.Error != nil {
			return fmt.Errorf("删除简历记录失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// MarkResumeCompleted 将PENDING记录标记为COMPLETED并写入解析结果
// 条件更新保证状态只能从PENDING单向迁移
func (m *MySQL) MarkResumeCompleted(ctx context.Context, resumeID string, parsed datatypes.JSON, contentType, strategy string, pageCount int) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.MarkResumeCompleted", trace.WithAttributes(
		attribute.String("resume.id", resumeID),
		attribute.String("resume.strategy", strategy),
	))
	defer span.End()

	now := time.Now()
	result := m.db.WithContext(ctx).
		Model(&models.ResumeRecord{}).
		Where("resume_id = ? AND status = ?", resumeID, constants.StatusPending).
		Updates(map[string]interface{}{
			"status":             constants.StatusCompleted,
			"parsed_resume_json": parsed,
			"content_type":       contentType,
			"strategy":           strategy,
			"page_count":         pageCount,
			"failure_message":    "",
			"completed_at":       &now,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.SetStatus(codes.Error, ErrStatusConflict.Error())
		return ErrStatusConflict
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// MarkResumeFailed 将PENDING记录标记为FAILED并写入面向调用方的失败消息
func (m *MySQL) MarkResumeFailed(ctx context.Context, resumeID string, failureMessage string) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.MarkResumeFailed", trace.WithAttributes(
		attribute.String("resume.id", resumeID),
	))
	defer span.End()

	now := time.Now()
	result := m.db.WithContext(ctx).
		Model(&models.ResumeRecord{}).
		Where("resume_id = ? AND status = ?", resumeID, constants.StatusPending).
		Updates(map[string]interface{}{
			"status":          constants.StatusFailed,
			"failure_message": failureMessage,
			"completed_at":    &now,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.SetStatus(codes.Error, ErrStatusConflict.Error())
		return ErrStatusConflict
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ResetResumeToPending 将终态记录重置为PENDING，供重新提取使用
func (m *MySQL) ResetResumeToPending(ctx context.Context, resumeID string) error {
	result := m.db.WithContext(ctx).
		Model(&models.ResumeRecord{}).
		Where("resume_id = ? AND status IN ?", resumeID, []string{constants.StatusCompleted, constants.StatusFailed}).
		Updates(map[string]interface{}{
			"status":          constants.StatusPending,
			"failure_message": "",
			"completed_at":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CreateAttempt 新建一条提取尝试记录
func (m *MySQL) CreateAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error {
	if attempt == nil {
		return fmt.Errorf("尝试记录不能为空")
	}
	if attempt.Status == "" {
		attempt.Status = constants.StatusPending
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	return m.db.WithContext(ctx).Create(attempt).Error
}

// MarkAttemptCompleted 将尝试标记为COMPLETED并写入诊断字段
func (m *MySQL) MarkAttemptCompleted(ctx context.Context, attemptID uint64, update models.AttemptUpdate) error {
	return m.db.WithContext(ctx).
		Model(&models.ExtractionAttempt{}).
		Where("attempt_id = ? AND status = ?", attemptID, constants.StatusPending).
		Updates(attemptUpdateColumns(constants.StatusCompleted, update)).Error
}

// MarkAttemptFailed 将尝试标记为FAILED并记录截断后的错误与诊断字段
func (m *MySQL) MarkAttemptFailed(ctx context.Context, attemptID uint64, errorMessage string, update models.AttemptUpdate) error {
	columns := attemptUpdateColumns(constants.StatusFailed, update)
	columns["error_message"] = truncateForColumn(errorMessage, constants.ErrorDetailMaxLen)
	return m.db.WithContext(ctx).
		Model(&models.ExtractionAttempt{}).
		Where("attempt_id = ? AND status = ?", attemptID, constants.StatusPending).
		Updates(columns).Error
}

// attemptUpdateColumns 组装终结尝试时的更新列, token计数缺失时保持null
func attemptUpdateColumns(status string, update models.AttemptUpdate) map[string]interface{} {
	now := time.Now()
	columns := map[string]interface{}{
		"status":          status,
		"raw_response":    truncateForColumn(update.RawResponse, constants.RawResponseMaxLen),
		"remediated":      update.Remediated,
		"pages_processed": update.PagesProcessed,
		"duration_ms":     update.DurationMS,
		"finished_at":     &now,
	}
	if update.PromptTokens != nil {
		columns["prompt_tokens"] = *update.PromptTokens
	}
	if update.ResponseTokens != nil {
		columns["response_tokens"] = *update.ResponseTokens
	}
	return columns
}

// ListAttemptsByResume 列出一条简历记录的全部提取尝试，按时间正序
func (m *MySQL) ListAttemptsByResume(ctx context.Context, resumeID string) ([]models.ExtractionAttempt, error) {
	var attempts []models.ExtractionAttempt
	err := m.db.WithContext(ctx).
		Where("resume_id = ?", resumeID).
		Order("started_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("查询提取尝试失败: %w", err)
	}
	return attempts, nil
}

// truncateForColumn 按字符数截断以适配varchar列宽
func truncateForColumn(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
