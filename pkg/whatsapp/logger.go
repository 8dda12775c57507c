package whatsapp

import (
	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

type logrusLogger struct {
	entry *logrus.Entry
}

// Logger returns a whatsmeow logger writing through the application
// logger under the given module name.
func Logger(module string) waLog.Logger {
	return logrusLogger{entry: log.Component("whatsmeow").WithField("module", module)}
}

func (l logrusLogger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }
func (l logrusLogger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l logrusLogger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l logrusLogger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }

func (l logrusLogger) Sub(module string) waLog.Logger {
	parent, _ := l.entry.Data["module"].(string)
	if parent != "" {
		module = parent + "/" + module
	}
	return logrusLogger{entry: l.entry.WithField("module", module)}
}
