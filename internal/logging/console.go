package logging

import (
	"fmt"
	"time"
)

// Level is the severity shown to the user in the console pane.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
)

// ConsoleLine is one user-visible console message.
type ConsoleLine struct {
	Time    time.Time
	Level   Level
	Message string
}

// String renders the line as "[HH:MM:SS] [LEVEL] message".
func (c ConsoleLine) String() string {
	return fmt.Sprintf("[%s] [%s] %s", c.Time.Format("15:04:05"), c.Level, c.Message)
}

// NewConsoleLine stamps a message with the current time.
func NewConsoleLine(level Level, format string, args ...interface{}) ConsoleLine {
	return ConsoleLine{Time: time.Now(), Level: level, Message: fmt.Sprintf(format, args...)}
}
