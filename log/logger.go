package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a logger that prints bare messages to out. At debug
// level the caller and a timestamp are added to every line.
func NewLogger(level log.Level, out io.Writer) *log.Logger {
	l := &log.Logger{
		Out:          out,
		Formatter:    &format{},
		Hooks:        make(log.LevelHooks),
		Level:        level,
		ExitFunc:     os.Exit,
		ReportCaller: false,
	}
	SetLevel(l, level)
	return l
}

// SetLevel changes the level and switches the formatter to match.
func SetLevel(l *log.Logger, level log.Level) {
	l.SetLevel(level)
	if level >= log.DebugLevel {
		l.SetFormatter(&debugFormat{})
		l.SetReportCaller(true)
	} else {
		l.SetFormatter(&format{})
		l.SetReportCaller(false)
	}
}

// Init builds the process logger from a level name and an optional log file.
func Init(level, file string, out io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := NewLogger(lvl, out)
	if file != "" {
		l.AddHook(NewFileHook(file))
	}
	return l, nil
}

type format struct {
	log.Formatter
}

// Format
// message
func (*format) Format(e *log.Entry) ([]byte, error) {
	if err, ok := e.Data[log.ErrorKey]; ok {
		return []byte(fmt.Sprintf("%s: %v\n", e.Message, err)), nil
	}
	return []byte(fmt.Sprintf("%s\n", e.Message)), nil
}

type debugFormat struct {
	log.Formatter
}

// Format
// 2009-01-23 01:23:23.000 d.go:23 debug: message [k=v]
func (*debugFormat) Format(e *log.Entry) ([]byte, error) {
	caller := runtime.Frame{}
	if e.Caller != nil {
		caller = *e.Caller
	}
	line := fmt.Sprintf("%s %s:%d %s: %s",
		e.Time.Format("2006-01-02 15:04:05.000"),
		filepath.Base(caller.File),
		caller.Line,
		e.Level.String(),
		e.Message,
	)
	if len(e.Data) > 0 {
		line += " " + GenStr(e.Data)
	}
	return []byte(line + "\n"), nil
}

// FileHook writes every entry as JSON to a size-rotated file.
type FileHook struct {
	writer    io.Writer
	formatter log.Formatter
}

func NewFileHook(path string) *FileHook {
	return &FileHook{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    1, // megabytes
			MaxBackups: 10,
			MaxAge:     60, //days
			Compress:   true,
		},
		formatter: &log.JSONFormatter{},
	}
}

func (h *FileHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *FileHook) Fire(e *log.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}
