package pkg

import (
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logLevelEnv = "APP_LOG_LEVEL"

var Logger *zap.Logger

// InitLogger initializes the global Logger based on the current gin mode (debug, test, release).
// APP_LOG_LEVEL overrides the mode's default level. fields are attached to every entry.
func InitLogger(fields ...zap.Field) {
	Logger = NewLogger(gin.Mode(), os.Getenv(logLevelEnv)).With(fields...)
}

// NewLogger builds a JSON production logger for release mode and a console logger otherwise.
// An unparsable level is ignored.
func NewLogger(ginMode, level string) *zap.Logger {
	var config zap.Config
	if gin.ReleaseMode == ginMode {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	logger, err := config.Build(zap.AddStacktrace(zap.DPanicLevel))
	if err != nil {
		panic(err)
	}
	return logger
}
