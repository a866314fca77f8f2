package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bitechdev/StoreCache/pkg/errortracking"
)

var Logger *zap.SugaredLogger
var errorTracker errortracking.Provider
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func Init(dev bool) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		UpdateLogger(&cfg)
	} else {
		cfg := zap.NewProductionConfig()
		UpdateLogger(&cfg)
	}
}

func UpdateLoggerPath(path string, dev bool) {
	defaultConfig := zap.NewProductionConfig()
	if dev {
		defaultConfig = zap.NewDevelopmentConfig()
	}
	defaultConfig.OutputPaths = []string{path}
	UpdateLogger(&defaultConfig)
}

func UpdateLogger(config *zap.Config) {
	defaultConfig := zap.NewProductionConfig()
	defaultConfig.OutputPaths = []string{"storecache.log"}
	if config == nil {
		config = &defaultConfig
	}

	level.SetLevel(config.Level.Level())
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		log.Print(err)
		return
	}

	Logger = logger.Sugar()
	Info("StoreCache logger initialized")
}

// SetDebug raises or lowers the level of the current logger at runtime.
// Cache instances configured with Debug use this to surface per-operation logs.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// InitErrorTracking initializes the error tracking provider
func InitErrorTracking(provider errortracking.Provider) {
	errorTracker = provider
	if errorTracker != nil {
		Info("Error tracking initialized")
	}
}

// GetErrorTracker returns the current error tracking provider
func GetErrorTracker() errortracking.Provider {
	return errorTracker
}

// CloseErrorTracking flushes and closes the error tracking provider
func CloseErrorTracking() error {
	if errorTracker != nil {
		errorTracker.Flush(5)
		return errorTracker.Close()
	}
	return nil
}

func Info(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Infow(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Warn(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Warnw(message, "process_id", os.Getpid())
	}

	if errorTracker != nil {
		errorTracker.CaptureMessage(context.Background(), message, errortracking.SeverityWarning, map[string]interface{}{
			"process_id": os.Getpid(),
		})
	}
}

func Error(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Errorw(message, "process_id", os.Getpid())
	}

	if errorTracker != nil {
		errorTracker.CaptureMessage(context.Background(), message, errortracking.SeverityError, map[string]interface{}{
			"process_id": os.Getpid(),
		})
	}
}

// ErrorWithCause logs the message and hands the original error to the tracker,
// so the tracker keeps the error type and chain instead of a flattened string.
func ErrorWithCause(err error, template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s: %v", message, err)
	} else {
		Logger.Errorw(message, "error", err, "process_id", os.Getpid())
	}

	if errorTracker != nil {
		errorTracker.CaptureError(context.Background(), err, errortracking.SeverityError, map[string]interface{}{
			"message":    message,
			"process_id": os.Getpid(),
		})
	}
}

func Debug(template string, args ...interface{}) {
	if Logger == nil {
		return
	}
	Logger.Debugw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

// CatchPanicCallback recovers a panic, reports it and hands it to cb.
// It must be deferred directly.
func CatchPanicCallback(location string, cb func(err any)) {
	if err := recover(); err != nil {
		reportPanic(location, err)
		if cb != nil {
			cb(err)
		}
	}
}

// CatchPanic - Handle panic. It must be deferred directly.
func CatchPanic(location string) {
	if err := recover(); err != nil {
		reportPanic(location, err)
	}
}

func reportPanic(location string, err any) {
	callstack := debug.Stack()

	if Logger != nil {
		Error("Panic in %s : %v", location, err)
	} else {
		fmt.Printf("%s:PANIC->%+v", location, err)
		debug.PrintStack()
	}

	if errorTracker != nil {
		errorTracker.CapturePanic(context.Background(), err, callstack, map[string]interface{}{
			"location":   location,
			"process_id": os.Getpid(),
		})
	}
}

// HandlePanic logs a panic and returns it as an error
// This should be called with the result of recover() from a deferred function
// Example usage:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = logger.HandlePanic("MethodName", r)
//	    }
//	}()
func HandlePanic(methodName string, r any) error {
	stack := debug.Stack()
	Error("Panic in %s: %v\nStack trace:\n%s", methodName, r, string(stack))

	if errorTracker != nil {
		errorTracker.CapturePanic(context.Background(), r, stack, map[string]interface{}{
			"method":     methodName,
			"process_id": os.Getpid(),
		})
	}

	return fmt.Errorf("panic in %s: %v", methodName, r)
}
