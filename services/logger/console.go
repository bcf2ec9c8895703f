package logsvc

import (
	"log"
	"os"

	"github.com/fads122/kodigrow-remake/core"
)

// ConsoleLogger writes leveled lines to a standard logger. It is the
// development and test logger; production reports through RollbarLogger.
type ConsoleLogger struct {
	std *log.Logger
}

var _ core.Logger = (*ConsoleLogger)(nil)

func NewConsoleLogger(std ...*log.Logger) *ConsoleLogger {
	if len(std) > 0 {
		return &ConsoleLogger{std: std[0]}
	}
	return &ConsoleLogger{std: log.New(os.Stdout, "", log.LstdFlags|log.Lshortfile)}
}

func (l ConsoleLogger) log(level, msg string, args []interface{}) {
	l.std.Printf("%s: %s", level, msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l ConsoleLogger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l ConsoleLogger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l ConsoleLogger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l ConsoleLogger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l ConsoleLogger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.std.Fatal(msg)
}
