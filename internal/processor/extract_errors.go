package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrResumeNotFound      = errors.New("简历记录不存在")
	ErrResumeDownloadFail  = errors.New("下载简历PDF失败")
	ErrExtractionFailed    = errors.New("模型提取失败")
	ErrValidationFailed    = errors.New("简历结构校验失败")
	ErrNoPagesExtracted    = errors.New("未能从任何页面提取出内容")
	ErrUpdateStatusFailed  = errors.New("更新简历状态失败")
	ErrDatabaseFailed      = errors.New("数据库操作失败")
	ErrResumeNotExtractble = errors.New("简历记录不处于可提取状态")
)

// ExtractError 包含详细上下文的提取错误
type ExtractError struct {
	ResumeID string
	Op       string
	BaseErr  error
	Detail   string
}

func (e *ExtractError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 简历:%s): %s", e.BaseErr, e.Op, e.ResumeID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 简历:%s)", e.BaseErr, e.Op, e.ResumeID)
}

func (e *ExtractError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ExtractError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewDownloadError(resumeID, detail string) error {
	return &ExtractError{
		ResumeID: resumeID,
		Op:       "download",
		BaseErr:  ErrResumeDownloadFail,
		Detail:   detail,
	}
}

func NewExtractionError(resumeID, detail string) error {
	return &ExtractError{
		ResumeID: resumeID,
		Op:       "extract",
		BaseErr:  ErrExtractionFailed,
		Detail:   detail,
	}
}

func NewValidationError(resumeID, detail string) error {
	return &ExtractError{
		ResumeID: resumeID,
		Op:       "validate",
		BaseErr:  ErrValidationFailed,
		Detail:   detail,
	}
}

func NewUpdateError(resumeID, detail string) error {
	return &ExtractError{
		ResumeID: resumeID,
		Op:       "update",
		BaseErr:  ErrUpdateStatusFailed,
		Detail:   detail,
	}
}

func NewDatabaseError(resumeID, detail string) error {
	return &ExtractError{
		ResumeID: resumeID,
		Op:       "database",
		BaseErr:  ErrDatabaseFailed,
		Detail:   detail,
	}
}
