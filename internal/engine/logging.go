package engine

import (
	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	entry := e.log.WithComponent("engine")
	if e.cfg.Symbol != "" {
		entry = entry.WithField("symbol", e.cfg.Symbol)
	}
	if e.accountID != "" {
		entry = entry.WithField("account", e.accountID)
	}
	return entry
}
