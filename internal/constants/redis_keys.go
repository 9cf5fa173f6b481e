package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// ExtractModulePrefix 提取模块
	ExtractModulePrefix = "extract"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityRateWindow 限流窗口实体
	EntityRateWindow = "rate_window"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToUUID MD5到记录ID的映射实体
	EntityMD5ToUUID = "md5_to_uuid"

	// KeyExtractRateWindow 按调用方统计的固定窗口限流计数 (STRING)
	// 格式: app:extract:rate_window:{callerID}
	KeyExtractRateWindow = AppPrefix + ":" + ExtractModulePrefix + ":" + EntityRateWindow + ":%s"

	// KeyFileMD5Set 文件MD5集合，用于快速去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToResumeID MD5到简历记录ID的映射 (STRING)
	// 格式: app:file:md5_to_uuid:{md5}
	KeyFileMD5ToResumeID = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToUUID + ":%s"
)
