package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}

// Provide 封装dig.Provide
func Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return Container.Provide(constructor, opts...)
}

// Build 创建容器并注册根依赖与全部提供者
func Build(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*dig.Container, *Cleanup, error) {
	container := InitContainer()
	cleanup := &Cleanup{}

	roots := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return log },
		func() prometheus.Registerer { return reg },
		func() *Cleanup { return cleanup },
	}
	for _, root := range roots {
		if err := container.Provide(root); err != nil {
			return nil, nil, err
		}
	}

	if err := RegisterProviders(container); err != nil {
		return nil, nil, err
	}
	return container, cleanup, nil
}

// Cleanup 按注册的逆序释放资源
type Cleanup struct {
	tasks []func() error
}

// Add 注册清理函数
func (c *Cleanup) Add(task func() error) {
	c.tasks = append(c.tasks, task)
}

// Run 执行全部清理函数，返回第一个错误
func (c *Cleanup) Run() error {
	var first error
	for i := len(c.tasks) - 1; i >= 0; i-- {
		if err := c.tasks[i](); err != nil && first == nil {
			first = err
		}
	}
	c.tasks = nil
	return first
}
