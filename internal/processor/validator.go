package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/types"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrProfileIncomplete 档案缺少发现所需的必填字段
var ErrProfileIncomplete = errors.New("档案不完整")

var amountPattern = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?(?:\s*[kKmM]\b)?`)

// placeholderHosts 模型常编造的示例域名
var placeholderHosts = map[string]bool{
	"example.com": true,
	"example.org": true,
	"example.net": true,
	"localhost":   true,
	"127.0.0.1":   true,
	"0.0.0.0":     true,
}

// opportunityNamespace 缺失 id 时按名称派生稳定 id
var opportunityNamespace = uuid.MustParse("6f1c3a52-9d7e-4b8a-a3f0-2c5e8d41b9a7")

// SchemaValidator 把推理服务的原始输出校验并规整为领域类型
type SchemaValidator struct {
	logger zerolog.Logger
}

// NewSchemaValidator 创建校验器
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{logger: logger.Named("validator")}
}

// DecodeProfile 把一段 JSON 对象规整为部分档案
// 缺失字段保持零值，由合并逻辑决定是否覆盖；不做资格检查
func (v *SchemaValidator) DecodeProfile(raw string) (*types.Profile, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("档案不是合法的 JSON 对象: %w", err)
	}

	p := &types.Profile{
		Name:           asString(m["name"]),
		Goals:          asString(m["goals"]),
		Skills:         asStringList(m["skills"]),
		Languages:      asStringList(m["languages"]),
		StudyInterests: asStringList(firstPresent(m, "studyInterests", "interests")),
	}

	for _, e := range asObjectList(m["education"]) {
		edu := types.Education{
			Institution:  asString(e["institution"]),
			Degree:       asString(e["degree"]),
			FieldOfStudy: asString(firstPresent(e, "fieldOfStudy", "field")),
		}
		if gpa, ok := asFloat(e["gpa"]); ok && gpa > 0 && gpa <= 100 {
			edu.GPA = gpa
		}
		if edu.Institution == "" && edu.Degree == "" && edu.FieldOfStudy == "" {
			continue
		}
		p.Education = append(p.Education, edu)
	}

	for _, e := range asObjectList(m["experience"]) {
		exp := types.Experience{
			Company:     asString(e["company"]),
			Role:        asString(e["role"]),
			Description: asString(e["description"]),
		}
		if exp.Company == "" && exp.Role == "" {
			continue
		}
		p.Experience = append(p.Experience, exp)
	}

	if raw := asString(m["financialSituation"]); raw != "" {
		if need, ok := types.ParseFinancialNeed(raw); ok {
			p.FinancialSituation = need
		} else {
			v.logger.Warn().Str("value", raw).Msg("经济需求取值非法，忽略")
		}
	}
	return p, nil
}

// CheckProfile 校验档案是否满足发现条件
func (v *SchemaValidator) CheckProfile(p *types.Profile) error {
	if p == nil {
		return fmt.Errorf("%w: 档案为空", ErrProfileIncomplete)
	}
	if p.EligibleForDiscovery() {
		return nil
	}
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	complete := false
	for _, e := range p.Education {
		if e.Complete() {
			complete = true
			break
		}
	}
	if !complete {
		missing = append(missing, "education(institution, degree, fieldOfStudy)")
	}
	return fmt.Errorf("%w: 缺少必填字段 %s", ErrProfileIncomplete, strings.Join(missing, "; "))
}

// Opportunities 逐条校验机会列表，丢弃不合格条目
// 输入非空但全部被丢弃时返回 DiscoveryParseError
func (v *SchemaValidator) Opportunities(elems []json.RawMessage) ([]types.Opportunity, error) {
	out := make([]types.Opportunity, 0, len(elems))
	seen := make(map[string]bool, len(elems))
	var rejected []string

	for i, raw := range elems {
		opp, reason := v.opportunity(raw)
		if reason == "" && seen[opp.ID] {
			reason = "重复 id " + opp.ID
		}
		if reason != "" {
			rejected = append(rejected, fmt.Sprintf("#%d %s", i, reason))
			continue
		}
		seen[opp.ID] = true
		out = append(out, opp)
	}

	if len(rejected) > 0 {
		v.logger.Warn().Int("rejected", len(rejected)).Strs("reasons", rejected).Msg("部分机会未通过校验")
	}
	if len(elems) > 0 && len(out) == 0 {
		return nil, NewDiscoveryParseError("所有条目均未通过校验", fmt.Errorf("%s", strings.Join(rejected, "; ")))
	}
	return out, nil
}

func (v *SchemaValidator) opportunity(raw json.RawMessage) (types.Opportunity, string) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return types.Opportunity{}, "不是 JSON 对象"
	}

	opp := types.Opportunity{
		ID:           asString(m["id"]),
		Name:         asString(m["name"]),
		Organization: asString(m["organization"]),
		Description:  asString(m["description"]),
		Eligibility:  asStringList(m["eligibility"]),
		Continent:    asString(m["continent"]),
		FieldOfStudy: asString(m["fieldOfStudy"]),
		URL:          asString(m["url"]),
		MatchReason:  asString(m["matchReason"]),
		Deadline:     NormalizeDeadline(asString(m["deadline"])),
		EffortScore:  parseEffort(asString(m["effortScore"])),
	}
	if opp.Name == "" {
		return opp, "缺少 name"
	}
	if !ValidOpportunityURL(opp.URL) {
		return opp, fmt.Sprintf("url 无效或为占位符: %q", opp.URL)
	}
	if amount, ok := asAmount(m["amount"]); ok {
		opp.Amount = amount
	}

	quality, drift := parseMatchQuality(m["matchScore"])
	if drift {
		v.logger.Warn().Interface("matchScore", m["matchScore"]).Str("mapped", string(quality)).Msg("匹配度不是标签，已按分段映射")
	}
	opp.MatchScore = quality

	if opp.ID == "" {
		opp.ID = uuid.NewSHA1(opportunityNamespace, []byte(opp.Name+"|"+opp.Organization)).String()
	}
	return opp, ""
}

// ValidOpportunityURL http(s) 绝对地址且不是占位符
func ValidOpportunityURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || !strings.Contains(host, ".") {
		return false
	}
	if placeholderHosts[host] || placeholderHosts[strings.TrimPrefix(host, "www.")] {
		return false
	}
	return !strings.Contains(strings.ToLower(raw), "placeholder")
}

// NormalizeDeadline 规整为 YYYY-MM-DD，无法解析时返回 "unknown"
func NormalizeDeadline(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, constants.DeadlineUnknown) {
		return constants.DeadlineUnknown
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.Format(time.DateOnly)
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil || t.Year() < 2000 {
		return constants.DeadlineUnknown
	}
	return t.Format(time.DateOnly)
}

// ParseDeadline 解析已规整的截止日期
func ParseDeadline(deadline string) (time.Time, bool) {
	if deadline == "" || deadline == constants.DeadlineUnknown {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, deadline)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseMatchQuality 标签大小写不敏感；数值按分段映射并报告漂移
func parseMatchQuality(v any) (types.MatchQuality, bool) {
	switch val := v.(type) {
	case float64:
		return qualityFromScore(val), true
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		switch {
		case s == "":
			return types.MatchPossible, false
		case strings.HasPrefix(s, "perfect"):
			return types.MatchPerfect, false
		case strings.HasPrefix(s, "excellent"):
			return types.MatchExcellent, false
		case strings.HasPrefix(s, "good"):
			return types.MatchGood, false
		case strings.HasPrefix(s, "possible"):
			return types.MatchPossible, false
		}
		if f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64); err == nil {
			return qualityFromScore(f), true
		}
		return types.MatchPossible, true
	}
	return types.MatchPossible, v != nil
}

func qualityFromScore(score float64) types.MatchQuality {
	if score > 0 && score <= 1 {
		score *= 100
	}
	switch {
	case score >= 90:
		return types.MatchPerfect
	case score >= 75:
		return types.MatchExcellent
	case score >= 60:
		return types.MatchGood
	}
	return types.MatchPossible
}

func parseEffort(s string) types.Effort {
	switch strings.ToLower(s) {
	case "low":
		return types.EffortLow
	case "high":
		return types.EffortHigh
	}
	return types.EffortMedium
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

// asAmount 兼容 "$5,000"、"10k" 这类写法
func asAmount(v any) (float64, bool) {
	if f, ok := asFloat(v); ok {
		return math.Max(f, 0), true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	match := amountPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	match = strings.TrimSpace(match)
	mult := 1.0
	switch match[len(match)-1] {
	case 'k', 'K':
		mult = 1_000
		match = strings.TrimSpace(match[:len(match)-1])
	case 'm', 'M':
		mult = 1_000_000
		match = strings.TrimSpace(match[:len(match)-1])
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

// asStringList 数组或逗号分隔字符串，去空去重
func asStringList(v any) []string {
	var items []string
	switch val := v.(type) {
	case []any:
		for _, e := range val {
			items = append(items, asString(e))
		}
	case string:
		items = strings.FieldsFunc(val, func(r rune) bool {
			return r == ',' || r == ';' || r == '\n'
		})
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func asObjectList(v any) []map[string]any {
	switch val := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, e := range val {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{val}
	}
	return nil
}
