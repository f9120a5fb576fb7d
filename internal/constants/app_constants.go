package constants

import "time"

const (
	// DefaultOwnerID 单用户部署时的默认档案归属
	DefaultOwnerID = "local"

	// DefaultLanguage 默认响应语言
	DefaultLanguage = "en"

	// DeadlineUnknown 截止日期无法确定时的哨兵值
	DeadlineUnknown = "unknown"

	// DefaultMaxOpportunities 单次发现返回的最大机会数
	DefaultMaxOpportunities = 50

	// FeedbackOpportunityLimit 生成档案反馈时参考的机会数量上限
	FeedbackOpportunityLimit = 5

	// ScanLockTTL 定时重扫锁的过期时间
	ScanLockTTL = 10 * time.Minute

	// RawInputBucketPrefix 原始输入归档的对象前缀
	RawInputBucketPrefix = "raw-inputs/"
)

// SupportedLanguages 支持的响应语言及其显示名
var SupportedLanguages = map[string]string{
	"en": "English",
	"ar": "Arabic",
}
