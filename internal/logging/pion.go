package logging

import (
	"fmt"

	pionlogging "github.com/pion/logging"
)

// PionLoggerFactory 는 pion/dtls 내부 로그를 Logger 로 전달하는 LoggerFactory 를 생성합니다. (ko)
// PionLoggerFactory adapts Logger to pion's LoggerFactory so engine logs share our JSON output. (en)
func PionLoggerFactory(logger Logger) pionlogging.LoggerFactory {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &pionFactory{logger: logger}
}

type pionFactory struct {
	logger Logger
}

func (f *pionFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	return &pionLogger{l: f.logger.With(Fields{"pion_scope": scope})}
}

// pionLogger 는 pion 의 trace 레벨을 debug 로 합쳐서 기록합니다.
type pionLogger struct {
	l Logger
}

func (p *pionLogger) Trace(msg string) { p.l.Debug(msg, nil) }
func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...), nil)
}
func (p *pionLogger) Debug(msg string) { p.l.Debug(msg, nil) }
func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...), nil)
}
func (p *pionLogger) Info(msg string) { p.l.Info(msg, nil) }
func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.l.Info(fmt.Sprintf(format, args...), nil)
}
func (p *pionLogger) Warn(msg string) { p.l.Warn(msg, nil) }
func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.l.Warn(fmt.Sprintf(format, args...), nil)
}
func (p *pionLogger) Error(msg string) { p.l.Error(msg, nil) }
func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...), nil)
}
