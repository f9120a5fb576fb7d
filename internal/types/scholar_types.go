package types

import (
	"strings"
)

// FinancialNeed 经济需求分类
type FinancialNeed string

const (
	FinancialNeedSignificant FinancialNeed = "Significant Need"
	FinancialNeedModerate    FinancialNeed = "Moderate Need"
	FinancialNeedSome        FinancialNeed = "Some Need"
	FinancialNeedNone        FinancialNeed = "No Need"

	// DefaultFinancialNeed 无法判断时的中间值
	DefaultFinancialNeed = FinancialNeedSome
)

// FinancialNeeds 全部合法取值，顺序即提示词中的顺序
var FinancialNeeds = []FinancialNeed{
	FinancialNeedSignificant,
	FinancialNeedModerate,
	FinancialNeedSome,
	FinancialNeedNone,
}

// ParseFinancialNeed 宽松解析，大小写与首尾空白不敏感
func ParseFinancialNeed(s string) (FinancialNeed, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, n := range FinancialNeeds {
		if strings.ToLower(string(n)) == norm {
			return n, true
		}
	}
	return "", false
}

// Education 教育经历
type Education struct {
	Institution  string  `json:"institution"`
	Degree       string  `json:"degree"`
	FieldOfStudy string  `json:"fieldOfStudy"`
	GPA          float64 `json:"gpa,omitempty"`
}

// Complete 院校、学位、专业均非空
func (e Education) Complete() bool {
	return strings.TrimSpace(e.Institution) != "" &&
		strings.TrimSpace(e.Degree) != "" &&
		strings.TrimSpace(e.FieldOfStudy) != ""
}

// Experience 工作/实践经历
type Experience struct {
	Company     string `json:"company"`
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
}

// Profile 用户档案
type Profile struct {
	Name               string        `json:"name"`
	Education          []Education   `json:"education"`
	Experience         []Experience  `json:"experience"`
	Skills             []string      `json:"skills"`
	Languages          []string      `json:"languages"`
	Goals              string        `json:"goals"`
	FinancialSituation FinancialNeed `json:"financialSituation"`
	StudyInterests     []string      `json:"studyInterests"`

	// 由推理服务生成
	Summary         string `json:"summary,omitempty"`
	ProfileFeedback string `json:"profileFeedback,omitempty"`
}

// EligibleForDiscovery 姓名非空且至少一条完整教育经历
func (p *Profile) EligibleForDiscovery() bool {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return false
	}
	for _, e := range p.Education {
		if e.Complete() {
			return true
		}
	}
	return false
}

// Clone 深拷贝，切片不与原对象共享底层数组
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Education = append([]Education(nil), p.Education...)
	cp.Experience = append([]Experience(nil), p.Experience...)
	cp.Skills = append([]string(nil), p.Skills...)
	cp.Languages = append([]string(nil), p.Languages...)
	cp.StudyInterests = append([]string(nil), p.StudyInterests...)
	return &cp
}

// MatchQuality 匹配质量序数标签
type MatchQuality string

const (
	MatchPerfect   MatchQuality = "Perfect Match"
	MatchExcellent MatchQuality = "Excellent Match"
	MatchGood      MatchQuality = "Good Match"
	MatchPossible  MatchQuality = "Possible Match"
)

// MatchQualities 从高到低
var MatchQualities = []MatchQuality{MatchPerfect, MatchExcellent, MatchGood, MatchPossible}

// Rank 越小越好，未知标签排在最后
func (m MatchQuality) Rank() int {
	for i, q := range MatchQualities {
		if q == m {
			return i
		}
	}
	return len(MatchQualities)
}

// Effort 申请工作量估计
type Effort string

const (
	EffortLow    Effort = "Low"
	EffortMedium Effort = "Medium"
	EffortHigh   Effort = "High"
)

// Feedback 用户对机会的反馈
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackAccepted Feedback = "accepted"
	FeedbackRejected Feedback = "rejected"
)

// ParseFeedback 解析反馈取值，空串表示清除
func ParseFeedback(s string) (Feedback, bool) {
	switch Feedback(strings.ToLower(strings.TrimSpace(s))) {
	case FeedbackAccepted:
		return FeedbackAccepted, true
	case FeedbackRejected:
		return FeedbackRejected, true
	case FeedbackNone:
		return FeedbackNone, true
	}
	return "", false
}

// ApplicationStatus 申请进度
type ApplicationStatus string

const (
	ApplicationNotStarted ApplicationStatus = "Not Started"
	ApplicationInProgress ApplicationStatus = "In Progress"
	ApplicationSubmitted  ApplicationStatus = "Submitted"
)

// ParseApplicationStatus 解析申请进度，空串视为 Not Started
func ParseApplicationStatus(s string) (ApplicationStatus, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "", "not started", "not_started":
		return ApplicationNotStarted, true
	case "in progress", "in_progress":
		return ApplicationInProgress, true
	case "submitted":
		return ApplicationSubmitted, true
	}
	return "", false
}

// Opportunity 一条奖学金/资助机会
type Opportunity struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Organization string       `json:"organization"`
	Amount       float64      `json:"amount"`
	Deadline     string       `json:"deadline"` // YYYY-MM-DD 或 "unknown"
	Description  string       `json:"description"`
	Eligibility  []string     `json:"eligibility"`
	Continent    string       `json:"continent,omitempty"`
	FieldOfStudy string       `json:"fieldOfStudy"`
	URL          string       `json:"url"`
	MatchScore   MatchQuality `json:"matchScore"`
	MatchReason  string       `json:"matchReason,omitempty"`
	EffortScore  Effort       `json:"effortScore"`

	// 用户侧标记，重扫时按 ID 继承
	Feedback          Feedback          `json:"feedback,omitempty"`
	ApplicationStatus ApplicationStatus `json:"applicationStatus,omitempty"`
}

// ActionItem 行动计划中的一项任务
type ActionItem struct {
	ID            string `json:"id"`
	ScholarshipID string `json:"scholarshipId"`
	Task          string `json:"task"`
	Week          int    `json:"week"` // 1 为最近的一周
	Completed     bool   `json:"completed"`
}

// ChatRole 对话角色
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage 一条对话消息
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// InputKind 原始输入类型
type InputKind string

const (
	InputText     InputKind = "text"
	InputDocument InputKind = "document"
	InputAudio    InputKind = "audio"
)

// RawInput 待抽取的原始输入
type RawInput struct {
	Kind      InputKind
	Text      string
	Data      []byte
	MediaType string
	FileName  string
}
