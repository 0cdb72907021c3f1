package logger

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Log is an instance of the global logrus.Logger
var Log *logrus.Logger
var logLevel logrus.Level
var initializeLogger sync.Once

type Marshaler interface {
	MarshalLog() map[string]interface{}
}

func buildFormatter(format string) logrus.Formatter {
	switch strings.ToUpper(format) {
	case "TEXT":
		return &logrus.TextFormatter{}
	default:
		return NewJsonFormatter()
	}
}

// NewJsonFormatter creates a new log formatter
func NewJsonFormatter() *CustomJsonFormatter {
	f := &CustomJsonFormatter{}

	var err error
	if f.Hostname == "" {
		if f.Hostname, err = os.Hostname(); err != nil {
			f.Hostname = "unknown"
		}
	}

	return f
}

type CustomJsonFormatter struct {
	Hostname string
}

//Format is the log formatter for the entry
func (f *CustomJsonFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	now := time.Now()

	data := map[string]interface{}{
		"@timestamp":  now.Format("2006-01-02T15:04:05.999Z"),
		"@version":    1,
		"message":     entry.Message,
		"levelname":   entry.Level.String(),
		"source_host": f.Hostname,
		"app":         "crm-connector",
	}

	if entry.Caller != nil {
		data["caller"] = entry.Caller.Func.Name()
	}

	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			data[k] = v.Error()
		case Marshaler:
			data[k] = v.MarshalLog()
		default:
			data[k] = v
		}
	}

	j, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	b.Write(j)
	b.WriteByte('\n')

	return b.Bytes(), nil
}

// InitLogger initializes the logger instance
func InitLogger() {

	initializeLogger.Do(func() {
		logconfig := viper.New()
		logconfig.SetDefault("LOG_LEVEL", "DEBUG")
		logconfig.SetDefault("LOG_FORMAT", "text")
		logconfig.SetEnvPrefix("CRM_CONNECTOR")
		logconfig.AutomaticEnv()
		format := logconfig.GetString("LOG_FORMAT")

		switch strings.ToUpper(logconfig.GetString("LOG_LEVEL")) {
		case "TRACE":
			logLevel = logrus.TraceLevel
		case "DEBUG":
			logLevel = logrus.DebugLevel
		case "ERROR":
			logLevel = logrus.ErrorLevel
		default:
			logLevel = logrus.InfoLevel
		}
		if flag.Lookup("test.v") != nil {
			logLevel = logrus.FatalLevel
		}

		formatter := buildFormatter(format)

		Log = &logrus.Logger{
			Out:          os.Stdout,
			Level:        logLevel,
			Formatter:    formatter,
			Hooks:        make(logrus.LevelHooks),
			ReportCaller: true,
		}
	})
}

func LogWithError(log *logrus.Entry, msg string, err error) {
	log.WithFields(logrus.Fields{"error": err}).Error(msg)
}

func LogFatalError(msg string, err error) {
	Log.WithFields(logrus.Fields{"error": err}).Fatal(msg)
}
