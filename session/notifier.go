package session

import "github.com/bitrise-io/go-utils/v2/log"

// Notifier shows a failure message to the operator.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc ...
type NotifierFunc func(message string)

// Notify ...
func (f NotifierFunc) Notify(message string) {
	f(message)
}

type logNotifier struct {
	logger log.Logger
}

// NewLogNotifier prints notifications as warnings.
func NewLogNotifier(logger log.Logger) Notifier {
	return logNotifier{logger: logger}
}

func (n logNotifier) Notify(message string) {
	n.logger.Warnf("%s", message)
}
