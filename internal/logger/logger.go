package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
	once   sync.Once
)

// Options 日志配置
type Options struct {
	// Env 为 development 时输出彩色控制台日志
	Env   string
	Level string
}

// OptionsFromEnv 从 ENV / LOG_LEVEL 环境变量读取日志配置
func OptionsFromEnv() Options {
	return Options{
		Env:   os.Getenv("ENV"),
		Level: os.Getenv("LOG_LEVEL"),
	}
}

// Build 按配置构建一个独立的Logger，不修改全局实例
func Build(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Env == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	config.Level = zap.NewAtomicLevelAt(level)

	return config.Build()
}

// InitLogger 初始化全局日志
func InitLogger() error {
	return InitWithOptions(OptionsFromEnv())
}

// InitWithOptions 使用指定配置初始化全局日志
func InitWithOptions(opts Options) error {
	l, err := Build(opts)
	if err != nil {
		return err
	}
	Logger = l
	zap.ReplaceGlobals(Logger)
	return nil
}

// GetLogger 获取Logger实例
func GetLogger() *zap.Logger {
	once.Do(func() {
		if Logger == nil {
			Logger, _ = zap.NewProduction()
		}
	})
	return Logger
}

// Named 返回带组件名的子Logger
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// Sync 同步日志缓冲区
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Fatal 记录日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}
