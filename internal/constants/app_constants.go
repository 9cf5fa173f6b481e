package constants

import "time"

// 提取记录与尝试的状态机: PENDING -> COMPLETED | FAILED
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// 提取策略标识
const (
	StrategyText   = "TEXT"
	StrategyImages = "IMAGES"
)

// PDF 内容形态分类结果
const (
	ContentTypeTextBased  = "TEXT_BASED"
	ContentTypeImageBased = "IMAGE_BASED"
	ContentTypeScanned    = "SCANNED"
	ContentTypeMixed      = "MIXED"
)

const (
	// MaxPDFPages 扫描件路径允许处理的最大页数
	MaxPDFPages = 10

	// MaxUploadSize 上传 PDF 的大小上限
	MaxUploadSize = 10 << 20 // 10 MiB

	// ErrorDetailMaxLen 尝试记录中错误消息的截断长度
	ErrorDetailMaxLen = 1000
	// RawResponseMaxLen 尝试记录中原始模型响应的截断长度
	RawResponseMaxLen = 2000

	// ClassifierScanLimit 内容分类器读取的前缀字节数
	ClassifierScanLimit = 2 << 20 // 2 MiB

	// OpenAIFilePurpose 上传到 Files API 时使用的 purpose
	OpenAIFilePurpose = "user_data"

	// PresignedURLExpiry 对象存储下载链接的有效期
	PresignedURLExpiry = 15 * time.Minute
)

// 面向调用方的错误消息
const (
	MsgExtractionIncomplete = "We could not extract all required information from your resume. Please try a clearer copy."
	MsgUnreadablePDF        = "We could not read this PDF. Please make sure the file is not corrupted or password protected."
	MsgInvalidFileType      = "Only PDF files are accepted."
	MsgFileTooLarge         = "The uploaded file exceeds the 10 MB limit."
	MsgRateLimited          = "You have reached the extraction limit. Please try again later."
)
