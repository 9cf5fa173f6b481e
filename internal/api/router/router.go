// Package router 注册API路由与入口中间件
package router

import (
	"context"

	"github.com/hamdidilekci/pdf-scraper/internal/api/handler"
	"github.com/hamdidilekci/pdf-scraper/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hzutils "github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册API路由
// 配置了API密钥时业务路由走keyauth校验, 健康检查始终开放
func RegisterRoutes(h *server.Hertz, cfg *config.Config, resumeHandler *handler.ResumeHandler, extractHandler *handler.ExtractHandler) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, hzutils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if len(cfg.Server.APIKeys) > 0 {
		api.Use(apiKeyMiddleware(cfg.Server.APIKeys))
	}

	api.POST("/resumes", resumeHandler.HandleUpload)
	api.GET("/resumes", resumeHandler.HandleListResumes)
	api.GET("/resumes/:id", resumeHandler.HandleGetResume)
	api.DELETE("/resumes/:id", resumeHandler.HandleDeleteResume)
	api.GET("/resumes/:id/download", resumeHandler.HandleDownloadURL)
	api.POST("/resumes/:id/extract", resumeHandler.HandleReExtract)

	api.POST("/extract/analyze", extractHandler.HandleAnalyze)
	api.GET("/extract/strategies", extractHandler.HandleStrategies)
	api.GET("/dashboard/stats", extractHandler.HandleDashboardStats)
}

// apiKeyMiddleware 基于Bearer令牌的API密钥校验
func apiKeyMiddleware(keys []string) app.HandlerFunc {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			return allowed[key], nil
		}),
	)
}
