package observability

import (
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stockcore/internal/config"
	"stockcore/internal/core"
)

// NewLogger builds the process logger: JSON to out, teed into the global OTel
// logger provider when withOTel is set.
func NewLogger(out io.Writer, level zapcore.Level, withOTel bool) *zap.Logger {
	if out == nil {
		out = os.Stdout
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(out)),
		level,
	))
	if withOTel {
		cores = append(cores, otelzap.NewCore(config.ServiceName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
		))
	}
	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)
}

// CoreLogger adapts zap to core.Logger.
type CoreLogger struct {
	sugar *zap.SugaredLogger
}

var _ core.Logger = CoreLogger{}

// NewCoreLogger wraps logger. The caller frame points at the service, not the
// adapter.
func NewCoreLogger(logger *zap.Logger) CoreLogger {
	return CoreLogger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l CoreLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l CoreLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l CoreLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l CoreLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
