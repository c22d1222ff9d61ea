// Package log 封装了进程级的 zap SugaredLogger。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 未调用 Init 之前使用 no-op logger，测试中无需初始化。
var sugar = zap.NewNop().Sugar()

// Init 按级别与格式初始化全局 logger。format 为 console 时使用开发配置与彩色级别，
// 否则输出 json。outputPath 非空时额外写入 outputPath/app.log。
func Init(level, format, outputPath string) {
	zapConfig := zap.NewProductionConfig()
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	atomicLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	_ = atomicLevel.UnmarshalText([]byte(level)) // 非法级别保持 info
	zapConfig.Level = atomicLevel

	zapConfig.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, os.ModePerm)
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(outputPath, "app.log"))
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

func Info(msg string) { sugar.Info(msg) }

func Infof(template string, args ...interface{}) { sugar.Infof(template, args...) }

// Infow 记录带结构化字段的 info 日志。
func Infow(msg string, keysAndValues ...interface{}) { sugar.Infow(msg, keysAndValues...) }

func Warnf(template string, args ...interface{}) { sugar.Warnf(template, args...) }

// Error 记录一条错误日志，err 作为 error 字段输出。
func Error(msg string, err error) { sugar.Errorw(msg, "error", err) }

func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

// Fatal 记录错误后退出进程。
func Fatal(msg string, err error) { sugar.Fatalw(msg, "error", err) }

func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }

// Sync 刷新缓冲的日志。
func Sync() { _ = sugar.Sync() }
