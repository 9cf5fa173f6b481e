package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/constants"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`  // 连接超时(秒)
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`  // 读取超时(秒)
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"` // 写入超时(秒)
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`          // 最大重试次数
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"` // 最小重试间隔(毫秒)
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"` // 最大重试间隔(毫秒)
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
	// MD5记录过期时间(天)
	MD5RecordExpireDays int `yaml:"md5_record_expire_days"` // MD5记录过期时间(天)
}

// Config 应用程序配置
type Config struct {
	// OpenAI 网关配置
	OpenAI OpenAIConfig `yaml:"openai"`

	// MinIO配置
	MinIO MinIOConfig `yaml:"minio"`

	// MySQL配置
	MySQL MySQLConfig `yaml:"mysql"`

	// Redis配置
	Redis RedisConfig `yaml:"redis"`

	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// 上传配置
	Upload UploadConfig `yaml:"upload"`

	// 提取流水线配置
	Extraction ExtractionConfig `yaml:"extraction"`

	// 调用方限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger"`

	// 链路追踪配置
	Tracing TracingConfig `yaml:"tracing"`

	// 模型QPM限制配置
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// OpenAIConfig OpenAI 网关配置结构
type OpenAIConfig struct {
	APIKey         string            `yaml:"api_key"`
	BaseURL        string            `yaml:"base_url"`
	Model          string            `yaml:"model"`
	VisionModel    string            `yaml:"vision_model"`         // 扫描件路径使用的多模态模型
	TaskModels     map[string]string `yaml:"task_models"`          // 任务专用模型
	TimeoutSeconds int               `yaml:"timeout_seconds"`      // 单次请求超时(秒)
	MaxRetries     int               `yaml:"max_retries"`          // 网络层最大重试次数
	RetryWaitMS    int               `yaml:"retry_wait_ms"`        // 重试等待时间(毫秒)
	DeleteUploaded bool              `yaml:"delete_uploaded_file"` // 提取完成后是否删除 Files API 上的文件
}

// MinIOConfig MinIO配置结构
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	Location        string `yaml:"location"` // 可选，存储桶区域
	// 简历原件存储桶
	ResumesBucket string `yaml:"resumesBucket"`
	// 对象生命周期管理
	ResumeFileExpireDays int  `yaml:"resume_file_expire_days"`       // 原始文件过期天数
	EnableTestLogging    bool `yaml:"enable_test_logging,omitempty"` // 控制测试期间的详细日志记录
}

// MySQLConfig MySQL配置结构
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// 连接池设置
	MaxIdleConns int `yaml:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int `yaml:"max_open_conns"` // 最大打开连接数
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
	// 超时设置
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"` // 连接超时(秒)
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`    // 读取超时(秒)
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds"`   // 写入超时(秒)
	// 日志设置
	LogLevel int `yaml:"log_level"` // 日志级别(1-4)
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080" or "0.0.0.0:8080"
	// API Key 鉴权，空值表示关闭鉴权
	APIKeys []string `yaml:"api_keys"`
}

// UploadConfig 上传限制配置
type UploadConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"` // 上传文件大小上限
}

// ExtractionConfig 提取流水线配置
type ExtractionConfig struct {
	// 内容分类器参数
	ClassifierScanBytes int     `yaml:"classifier_scan_bytes"` // 分类器扫描的前缀字节数
	MinTextTokens       int     `yaml:"min_text_tokens"`       // 判定为文本型所需的最少文本操作符数
	DominanceMargin     float64 `yaml:"dominance_margin"`      // 一方计数超过另一方该倍数即判定占优

	// 扫描件路径参数
	MaxPages        int `yaml:"max_pages"`        // 处理的最大页数
	PageConcurrency int `yaml:"page_concurrency"` // 并发处理的页数上限

	// 模型交互参数
	Timeout          string `yaml:"timeout"`            // 单次提取总超时，例如 "120s"
	RemediationRetry bool   `yaml:"remediation_retry"`  // 校验失败后是否带着错误重问一次
	MaxRetries       int    `yaml:"max_retries"`        // 网关层最大重试次数
	RetryWaitSeconds int    `yaml:"retry_wait_seconds"` // 重试等待时间(秒)
}

// RateLimitConfig 按调用方的固定窗口限流配置
type RateLimitConfig struct {
	Enabled       bool     `yaml:"enabled"`
	MaxPerWindow  int      `yaml:"max_per_window"`            // 窗口内允许的提取次数
	Window        string   `yaml:"window"`                    // 窗口长度，例如 "1h"
	ExemptAPIKeys []string `yaml:"exempt_api_keys,omitempty"` // 不受限流约束的调用方
}

// TracingConfig OTLP链路追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC collector地址，例如 "localhost:4317"
	SampleRatio float64 `yaml:"sample_ratio"` // 采样比例，0到1
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件路径，则尝试在默认位置查找
	if configPath == "" {
		// 尝试在常见位置查找配置文件
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".pdf-scraper", "config.yaml"),
		}

		// 获取当前可执行文件路径
		execPath, err := os.Executable()
		if err == nil {
			execDir := filepath.Dir(execPath)
			// 添加可执行文件所在目录
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
			// 添加可执行文件上级目录
			searchPaths = append(searchPaths, filepath.Join(execDir, "..", "config.yaml"))
		}

		// 获取工作目录
		workDir, err := os.Getwd()
		if err == nil {
			// 检测是否在测试环境中
			isTest := false
			if strings.Contains(workDir, "tmp") && strings.Contains(workDir, "test") {
				isTest = true
			} else {
				for _, arg := range os.Args {
					if strings.Contains(arg, "test") {
						isTest = true
						break
					}
				}
			}

			// 如果在测试环境中，添加可能的项目根目录
			if isTest {
				// 项目可能的根目录
				projectRoots := []string{
					workDir,
					filepath.Join(workDir, ".."),
					filepath.Join(workDir, "..", ".."),
					filepath.Join(workDir, "..", "..", ".."),
				}
				for _, root := range projectRoots {
					searchPaths = append(searchPaths, filepath.Join(root, "config.yaml"))
				}
			}
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 如果仍找不到配置文件，使用默认路径，但不返回错误
		if configPath == "" {
			// 检测是否在测试环境
			inTest := false
			for _, arg := range os.Args {
				if strings.Contains(arg, "test") {
					inTest = true
					break
				}
			}

			// 如果在测试环境中，创建默认配置
			if inTest {
				// 返回默认配置而不抛出错误
				return createDefaultConfig(), nil
			}

			configPath = "config.yaml"
		}
	}

	// 检查文件是否存在
	_, err := os.Stat(configPath)
	if err != nil {
		// 检测是否在测试环境
		inTest := false
		for _, arg := range os.Args {
			if strings.Contains(arg, "test") {
				inTest = true
				break
			}
		}

		// 如果在测试环境中，返回默认配置而不抛出错误
		if inTest {
			return createDefaultConfig(), nil
		}

		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置文件
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 从环境变量覆盖配置（如果存在）
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		config.OpenAI.APIKey = envKey
	}
	if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
		config.OpenAI.BaseURL = envURL
	}
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		config.OpenAI.Model = envModel
	}

	applyDefaults(&config)

	return &config, nil
}

// LoadConfigFromFileOnly 从文件加载配置，不尝试从环境变量覆盖
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("必须提供配置文件路径")
	}

	// 检查文件是否存在
	_, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置文件
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 注意：此处不从环境变量覆盖OpenAI配置
	applyDefaults(&config)

	return &config, nil
}

// applyDefaults 对缺失的字段填充默认值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080" // 默认服务器地址
	}
	if config.OpenAI.BaseURL == "" {
		config.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if config.OpenAI.Model == "" {
		config.OpenAI.Model = "gpt-4o-mini"
	}
	if config.OpenAI.VisionModel == "" {
		config.OpenAI.VisionModel = config.OpenAI.Model
	}
	if config.OpenAI.TimeoutSeconds == 0 {
		config.OpenAI.TimeoutSeconds = 120
	}
	if config.Upload.MaxSizeBytes == 0 {
		config.Upload.MaxSizeBytes = constants.MaxUploadSize
	}
	if config.Extraction.ClassifierScanBytes == 0 {
		config.Extraction.ClassifierScanBytes = 2 << 20
	}
	if config.Extraction.MinTextTokens == 0 {
		config.Extraction.MinTextTokens = 5
	}
	if config.Extraction.DominanceMargin == 0 {
		config.Extraction.DominanceMargin = 1.3
	}
	if config.Extraction.MaxPages == 0 {
		config.Extraction.MaxPages = constants.MaxPDFPages
	}
	if config.Extraction.PageConcurrency == 0 {
		config.Extraction.PageConcurrency = 4
	}
	if config.Extraction.Timeout == "" {
		config.Extraction.Timeout = "120s"
	}
	if config.RateLimit.Window == "" {
		config.RateLimit.Window = "1h"
	}
	if config.RateLimit.MaxPerWindow == 0 {
		config.RateLimit.MaxPerWindow = 10
	}
}

// 创建一个默认配置，用于测试环境
func createDefaultConfig() *Config {
	config := &Config{}

	// OpenAI默认配置
	config.OpenAI.BaseURL = "https://api.openai.com/v1"
	config.OpenAI.Model = "gpt-4o-mini"
	config.OpenAI.VisionModel = "gpt-4o"
	config.OpenAI.TimeoutSeconds = 120
	config.OpenAI.MaxRetries = 3
	config.OpenAI.RetryWaitMS = 1000
	config.OpenAI.DeleteUploaded = true

	// MinIO默认配置
	config.MinIO.Endpoint = "localhost:9000"
	config.MinIO.AccessKeyID = "minioadmin"
	config.MinIO.SecretAccessKey = "minioadmin123"
	config.MinIO.UseSSL = false
	config.MinIO.ResumesBucket = "resumes"
	config.MinIO.Location = ""
	config.MinIO.ResumeFileExpireDays = 1095 // 默认3年过期
	config.MinIO.EnableTestLogging = false

	// MySQL默认配置
	config.MySQL.Host = "localhost"
	config.MySQL.Port = 3306
	config.MySQL.Username = "root"
	config.MySQL.Password = "password"
	config.MySQL.Database = "pdf_scraper"
	// MySQL连接池默认配置
	config.MySQL.MaxIdleConns = 10
	config.MySQL.MaxOpenConns = 100
	config.MySQL.ConnMaxLifetimeMinutes = 60
	config.MySQL.ConnMaxIdleTimeMinutes = 30
	config.MySQL.ConnectTimeoutSeconds = 10
	config.MySQL.ReadTimeoutSeconds = 30
	config.MySQL.WriteTimeoutSeconds = 30
	config.MySQL.LogLevel = 4 // Info级别

	// Redis默认配置
	config.Redis.Address = "localhost:6379"
	config.Redis.Password = ""
	config.Redis.DB = 0
	// Redis连接池默认配置
	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 2
	config.Redis.DialTimeoutSeconds = 5
	config.Redis.ReadTimeoutSeconds = 3
	config.Redis.WriteTimeoutSeconds = 3
	config.Redis.MaxRetries = 3
	config.Redis.MinRetryBackoffMS = 8
	config.Redis.MaxRetryBackoffMS = 512
	config.Redis.ConnMaxLifetimeMinutes = 60
	config.Redis.ConnMaxIdleTimeMinutes = 30
	config.Redis.MD5RecordExpireDays = 365 // 默认1年过期

	// 服务器默认配置
	config.Server.Address = ":8080"

	// 上传默认配置
	config.Upload.MaxSizeBytes = constants.MaxUploadSize

	// 提取流水线默认配置
	config.Extraction.ClassifierScanBytes = 2 << 20
	config.Extraction.MinTextTokens = 5
	config.Extraction.DominanceMargin = 1.3
	config.Extraction.MaxPages = constants.MaxPDFPages
	config.Extraction.PageConcurrency = 4
	config.Extraction.Timeout = "120s"
	config.Extraction.RemediationRetry = true
	config.Extraction.MaxRetries = 3
	config.Extraction.RetryWaitSeconds = 1

	// 限流默认配置
	config.RateLimit.Enabled = true
	config.RateLimit.MaxPerWindow = 10
	config.RateLimit.Window = "1h"

	// 链路追踪默认配置
	config.Tracing.Enabled = false
	config.Tracing.Endpoint = "localhost:4317"
	config.Tracing.SampleRatio = 1

	// 获取环境变量
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		config.OpenAI.APIKey = envKey
	} else {
		config.OpenAI.APIKey = "test_api_key"
	}

	// 日志默认配置
	config.Logger.Level = "info"
	config.Logger.Format = "pretty" // 开发环境默认使用美化输出
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	// 添加默认的模型QPM限制
	config.ModelQPMLimits = map[string]int{
		"gpt-4o":       500,
		"gpt-4o-mini":  5000,
		"gpt-4.1":      500,
		"gpt-4.1-mini": 5000,
	}

	return config
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	// 检查文件是否已存在
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	// 创建一个默认配置实例
	config := createDefaultConfig()

	// 将配置序列化为YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// 写入文件
	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}

	fmt.Printf("示例配置文件已创建: %s\n", filePath)
	return nil
}

// GetModelForTask 根据任务名称获取合适的模型
// 如果任务专用模型存在则返回专用模型，否则返回默认模型
func (c *Config) GetModelForTask(taskName string) string {
	// 检查是否有任务专用模型
	if c.OpenAI.TaskModels != nil {
		if model, ok := c.OpenAI.TaskModels[taskName]; ok && model != "" {
			return model
		}
	}
	// 返回默认模型
	return c.OpenAI.Model
}

// GetQPMForModel 返回模型的QPM限制，未配置时返回保守默认值
func (c *Config) GetQPMForModel(model string) int {
	if c.ModelQPMLimits != nil {
		if qpm, ok := c.ModelQPMLimits[model]; ok && qpm > 0 {
			return qpm
		}
	}
	return 60
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
