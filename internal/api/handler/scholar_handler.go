package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/orchestrator"
	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ScholarHandler 把 HTTP 请求转发给编排器
type ScholarHandler struct {
	orch        *orchestrator.Orchestrator
	maxUploadMB int
}

// NewScholarHandler 创建处理器，maxUploadMB 为上传文件大小上限
func NewScholarHandler(orch *orchestrator.Orchestrator, maxUploadMB int) *ScholarHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &ScholarHandler{orch: orch, maxUploadMB: maxUploadMB}
}

type ingestTextRequest struct {
	Text string `json:"text"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type planItemRequest struct {
	// 为空时切换完成状态
	Completed *bool `json:"completed"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type languageRequest struct {
	Language string `json:"language"`
}

// Health 存活检查
// GET /api/v1/health
func (h *ScholarHandler) Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok", "phase": h.orch.Phase()})
}

// State 返回状态树快照
// GET /api/v1/state
func (h *ScholarHandler) State(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.orch.Snapshot())
}

// IngestProfile 从文本、文档或音频抽取档案
// POST /api/v1/profile/ingest
// JSON: {"text": "..."}；FormData: file (文档) 或 audio (录音)
func (h *ScholarHandler) IngestProfile(ctx context.Context, c *app.RequestContext) {
	var input types.RawInput
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		in, status, err := h.readUpload(c)
		if err != nil {
			c.JSON(status, utils.H{"error": err.Error()})
			return
		}
		input = in
	} else {
		var req ingestTextRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "text 不能为空"})
			return
		}
		input = types.RawInput{Kind: types.InputText, Text: req.Text}
	}

	logger.Ctx(ctx).Info().
		Str("kind", string(input.Kind)).
		Str("filename", input.FileName).
		Int("bytes", len(input.Data)+len(input.Text)).
		Msg("收到档案抽取请求")

	profile, err := h.orch.Ingest(ctx, input)
	if err != nil && profile == nil {
		writeError(c, err)
		return
	}
	// 档案已保存但 populate 没能启动时仍返回档案
	c.JSON(consts.StatusAccepted, utils.H{"profile": profile, "phase": h.orch.Phase()})
}

// readUpload 读取 file 或 audio 字段
func (h *ScholarHandler) readUpload(c *app.RequestContext) (types.RawInput, int, error) {
	kind := types.InputDocument
	fileHeader, err := c.FormFile("file")
	if err != nil {
		kind = types.InputAudio
		fileHeader, err = c.FormFile("audio")
	}
	if err != nil {
		return types.RawInput{}, consts.StatusBadRequest, errors.New("未找到 file 或 audio 字段")
	}

	limit := int64(h.maxUploadMB) << 20
	if fileHeader.Size > limit {
		return types.RawInput{}, consts.StatusRequestEntityTooLarge,
			fmt.Errorf("文件超过 %dMB 上限", h.maxUploadMB)
	}

	data, err := readFileHeader(fileHeader, limit)
	if err != nil {
		return types.RawInput{}, consts.StatusInternalServerError, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if len(data) == 0 {
		return types.RawInput{}, consts.StatusBadRequest, errors.New("上传文件为空")
	}

	mediaType := fileHeader.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileHeader.Filename))); byExt != "" {
			mediaType = byExt
		}
	}
	return types.RawInput{
		Kind:      kind,
		Data:      data,
		MediaType: mediaType,
		FileName:  fileHeader.Filename,
	}, consts.StatusOK, nil
}

func readFileHeader(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

// UpdateProfile 保存编辑后的档案
// PUT /api/v1/profile
func (h *ScholarHandler) UpdateProfile(ctx context.Context, c *app.RequestContext) {
	var profile types.Profile
	if err := c.BindJSON(&profile); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的档案 JSON"})
		return
	}
	saved, err := h.orch.UpdateProfile(ctx, &profile)
	if err != nil && saved == nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"profile": saved, "phase": h.orch.Phase()})
}

// ResetProfile 删除档案、计划和对话
// DELETE /api/v1/profile
func (h *ScholarHandler) ResetProfile(ctx context.Context, c *app.RequestContext) {
	if err := h.orch.Reset(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"phase": h.orch.Phase()})
}

// Rescan 开始新一轮 populate，wait=true 时等待结束
// POST /api/v1/rescan
func (h *ScholarHandler) Rescan(ctx context.Context, c *app.RequestContext) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		gen, err := h.orch.StartRescan(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(consts.StatusAccepted, utils.H{"generation": gen, "phase": h.orch.Phase()})
		return
	}

	snap, err := h.orch.Rescan(ctx)
	if err != nil && snap.Phase != orchestrator.PhaseError {
		writeError(c, err)
		return
	}
	// 失败信息在 lastError 中
	c.JSON(consts.StatusOK, snap)
}

// SetFeedback 标记机会接受/拒绝，空串清除
// POST /api/v1/opportunities/:id/feedback
func (h *ScholarHandler) SetFeedback(ctx context.Context, c *app.RequestContext) {
	var req feedbackRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
		return
	}
	fb, ok := types.ParseFeedback(req.Feedback)
	if !ok {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "feedback 只能是 accepted、rejected 或空"})
		return
	}
	id := c.Param("id")
	if err := h.orch.SetOpportunityFeedback(ctx, id, fb); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"id": id, "feedback": fb})
}

// SetStatus 更新申请进度
// POST /api/v1/opportunities/:id/status
func (h *ScholarHandler) SetStatus(ctx context.Context, c *app.RequestContext) {
	var req statusRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
		return
	}
	status, ok := types.ParseApplicationStatus(req.Status)
	if !ok {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "未知的申请进度: " + req.Status})
		return
	}
	id := c.Param("id")
	if err := h.orch.SetApplicationStatus(ctx, id, status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"id": id, "applicationStatus": status})
}

// GeneratePlan 根据当前机会生成行动计划
// POST /api/v1/plan
func (h *ScholarHandler) GeneratePlan(ctx context.Context, c *app.RequestContext) {
	items, err := h.orch.GeneratePlan(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"items": items})
}

// UpdatePlanItem 设置或切换任务完成状态
// PATCH /api/v1/plan/:id
func (h *ScholarHandler) UpdatePlanItem(ctx context.Context, c *app.RequestContext) {
	var req planItemRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
			return
		}
	}

	id := c.Param("id")
	var (
		item types.ActionItem
		err  error
	)
	if req.Completed == nil {
		item, err = h.orch.ToggleActionItem(ctx, id)
	} else {
		item, err = h.orch.SetActionItemCompleted(ctx, id, *req.Completed)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, item)
}

// CalendarLink 返回任务的日历深链
// GET /api/v1/plan/:id/calendar
func (h *ScholarHandler) CalendarLink(ctx context.Context, c *app.RequestContext) {
	link, err := h.orch.CalendarLink(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"url": link})
}

// Chat 发送一条消息，失败时回复降级文本
// POST /api/v1/chat
func (h *ScholarHandler) Chat(ctx context.Context, c *app.RequestContext) {
	var req chatRequest
	if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "message 不能为空"})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"reply": h.orch.SendChat(ctx, req.Message)})
}

// ChatHistory 当前会话历史
// GET /api/v1/chat
func (h *ScholarHandler) ChatHistory(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"messages": h.orch.ChatHistory()})
}

// SetLanguage 切换响应语言
// PUT /api/v1/settings/language
func (h *ScholarHandler) SetLanguage(ctx context.Context, c *app.RequestContext) {
	var req languageRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
		return
	}
	if err := h.orch.SetLanguage(strings.ToLower(strings.TrimSpace(req.Language))); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"language": h.orch.Snapshot().Language})
}

// writeError 按错误类型选择状态码
func writeError(c *app.RequestContext, err error) {
	status := statusFor(err)
	body := utils.H{"error": err.Error()}
	if kind := processor.KindOf(err); kind != processor.KindInternal {
		body["kind"] = kind
		body["retryable"] = processor.Retryable(err)
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("请求处理失败")
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	var transition *orchestrator.ErrInvalidTransition
	switch {
	case errors.Is(err, processor.ErrExtraction):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrProfileIncomplete),
		errors.Is(err, orchestrator.ErrUnsupportedLanguage):
		return consts.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUnknownOpportunity),
		errors.Is(err, orchestrator.ErrUnknownActionItem):
		return consts.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoProfile),
		errors.Is(err, orchestrator.ErrNotReady),
		errors.Is(err, orchestrator.ErrStaleCycle),
		errors.As(err, &transition):
		return consts.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return consts.StatusServiceUnavailable
	}
	switch processor.KindOf(err) {
	case processor.KindTransport, processor.KindDiscoveryParse, processor.KindPlanValidation:
		return consts.StatusBadGateway
	case processor.KindDiscoveryEmpty:
		return consts.StatusOK
	}
	return consts.StatusInternalServerError
}
