package controllers

import (
	"net/http"

	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/services"
)

// HealthDeps 健康检查依赖
type HealthDeps struct {
	Embedder  knowledge.Embedder
	ChatModel knowledge.ChatModel
	Store     knowledge.VectorStore
	Breakers  services.Breakers
}

// HealthController 健康检查
type HealthController struct {
	BaseController
	Deps *HealthDeps
}

// Health GET /health
// 任一组件未就绪时返回503
func (c *HealthController) Health() {
	components := map[string]interface{}{
		"embedder": map[string]interface{}{
			"ready": c.Deps.Embedder.Ready(),
			"model": c.Deps.Embedder.Model(),
		},
		"chatModel": map[string]interface{}{
			"ready": c.Deps.ChatModel.Ready(),
			"model": c.Deps.ChatModel.Model(),
		},
		"vectorStore": map[string]interface{}{
			"ready": c.Deps.Store.Ready(),
		},
	}
	healthy := c.Deps.Embedder.Ready() && c.Deps.ChatModel.Ready() && c.Deps.Store.Ready()

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, map[string]interface{}{
		"status":     status,
		"components": components,
		"breakers":   c.Deps.Breakers.Stats(),
	})
}
