package router

import (
	"context"
	"crypto/subtle"
	"errors"

	"scholar-ai-go/internal/api/handler"
	"scholar-ai-go/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIKeyHeader 鉴权使用的请求头
const APIKeyHeader = "X-API-Key"

// Options 路由可选项
type Options struct {
	// APIKey 为空时不启用鉴权
	APIKey string
	// Gatherer 为空时不暴露 /metrics
	Gatherer prometheus.Gatherer
}

// NewServer 创建带链路追踪的 Hertz 服务器
func NewServer(addr string, maxUploadMB int) *server.Hertz {
	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.Default(
		tracer,
		server.WithHostPorts(addr),
		// multipart 额外开销留 1MB
		server.WithMaxRequestBodySize((maxUploadMB+1)<<20),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	return h
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, sh *handler.ScholarHandler, opts Options) {
	if opts.Gatherer != nil {
		h.GET("/metrics", adaptor.HertzHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := h.Group("/api/v1")
	// 健康检查不需要鉴权
	api.GET("/health", sh.Health)

	secured := api.Group("")
	if opts.APIKey != "" {
		secured.Use(apiKeyAuth(opts.APIKey))
	} else {
		logger.Warn().Msg("未配置 server.api_key，API 不做鉴权")
	}

	secured.GET("/state", sh.State)

	secured.POST("/profile/ingest", sh.IngestProfile)
	secured.PUT("/profile", sh.UpdateProfile)
	secured.DELETE("/profile", sh.ResetProfile)

	secured.POST("/rescan", sh.Rescan)
	secured.POST("/opportunities/:id/feedback", sh.SetFeedback)
	secured.POST("/opportunities/:id/status", sh.SetStatus)

	secured.POST("/plan", sh.GeneratePlan)
	secured.PATCH("/plan/:id", sh.UpdatePlanItem)
	secured.GET("/plan/:id/calendar", sh.CalendarLink)

	secured.POST("/chat", sh.Chat)
	secured.GET("/chat", sh.ChatHistory)
	secured.PUT("/settings/language", sh.SetLanguage)
}

var errInvalidKey = errors.New("invalid api key")

func apiKeyAuth(expected string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1 {
				return true, nil
			}
			return false, errInvalidKey
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "缺少或无效的 API Key"})
		}),
	)
}
