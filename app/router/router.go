package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihub/docqa-go/app/controllers"
)

// Routes 路由所需的控制器依赖
type Routes struct {
	RAG      *controllers.RAGDeps
	Health   *controllers.HealthDeps
	Gatherer prometheus.Gatherer
}

// Init registers all routes on the global beego app. Must be called after bootstrap.
func Init(routes Routes) {
	Register(web.BeeApp.Handlers, routes)
}

// Register 在指定的路由表上注册全部路由
func Register(handlers *web.ControllerRegister, routes Routes) {
	health := &controllers.HealthController{Deps: routes.Health}
	handlers.Add("/health", health, web.WithRouterMethods(health, "get:Health"))

	rag := &controllers.RAGController{Deps: routes.RAG}
	handlers.Add("/api/ingest", rag, web.WithRouterMethods(rag, "post:Ingest"))
	handlers.Add("/api/ingest/status", rag, web.WithRouterMethods(rag, "get:IngestStatus"))
	handlers.Add("/api/query", rag, web.WithRouterMethods(rag, "post:Query"))
	handlers.Add("/api/highlight", rag, web.WithRouterMethods(rag, "post:Highlight"))

	if routes.Gatherer != nil {
		handlers.Handler("/metrics", promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}
}
