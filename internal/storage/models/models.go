package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeRecord 简历记录主表
// 状态机: PENDING -> COMPLETED | FAILED，只允许从PENDING出发的单向迁移
type ResumeRecord struct {
	ResumeID         string         `gorm:"type:char(36);primaryKey"`
	CallerID         string         `gorm:"type:varchar(255);index:idx_resumes_caller_id"`
	OriginalFilename string         `gorm:"type:varchar(255)"`
	FilePathOSS      string         `gorm:"type:varchar(1024)"`
	FileMD5          string         `gorm:"type:char(32);index:idx_resumes_file_md5"`
	FileSizeBytes    int64          `gorm:"type:bigint"`
	PageCount        int            `gorm:"type:int"`
	ContentType      string         `gorm:"type:varchar(20)"`                                            // TEXT_BASED / IMAGE_BASED / SCANNED / MIXED
	Strategy         string         `gorm:"type:varchar(20)"`                                            // 实际采用的提取策略
	Status           string         `gorm:"type:varchar(50);default:'PENDING';index:idx_resumes_status"` // PENDING / COMPLETED / FAILED
	ParsedResumeJSON datatypes.JSON `gorm:"type:json"`                                                   // 校验通过的结构化简历文档
	FailureMessage   string         `gorm:"type:varchar(1024)"`                                          // 面向调用方的失败消息
	CompletedAt      *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeRecord) TableName() string {
	return "resumes"
}

// ExtractionAttempt 单次提取尝试表，一条简历记录可以对应多次尝试
type ExtractionAttempt struct {
	AttemptID      uint64         `gorm:"primaryKey;autoIncrement"`
	ResumeID       string         `gorm:"type:char(36);not null;index:idx_attempts_resume_id"`
	Strategy       string         `gorm:"type:varchar(20);not null"` // TEXT / IMAGES
	Model          string         `gorm:"type:varchar(100)"`
	Status         string         `gorm:"type:varchar(50);default:'PENDING';index:idx_attempts_status"`
	PromptTokens   *int           `gorm:"type:int"`                  // 模型上报的输入token数, 未上报时为null
	ResponseTokens *int           `gorm:"type:int"`                  // 模型上报的输出token数
	PagesProcessed int            `gorm:"type:int"`                  // 实际参与提取的页数
	Remediated     bool           `gorm:"default:false"`             // 是否走了带错误重问的补救请求
	ErrorMessage   string         `gorm:"type:varchar(1000)"`        // 截断后的错误消息
	RawResponse    string         `gorm:"type:varchar(2000)"`        // 截断后的原始模型响应
	AnalysisJSON   datatypes.JSON `gorm:"type:json"`                 // 本次尝试的PDF分析结果
	StartedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	FinishedAt     *time.Time     `gorm:"type:datetime(6)"`
	DurationMS     int64          `gorm:"type:bigint"`
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	ResumeRecord *ResumeRecord `gorm:"foreignKey:ResumeID;references:ResumeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ExtractionAttempt) TableName() string {
	return "resume_extraction_attempts"
}

// AttemptUpdate 终结一次提取尝试时写入的诊断字段
// 无论成败都会落库, RawResponse按列宽截断后保存
type AttemptUpdate struct {
	RawResponse    string
	Remediated     bool
	PagesProcessed int
	PromptTokens   *int
	ResponseTokens *int
	DurationMS     int64
}
