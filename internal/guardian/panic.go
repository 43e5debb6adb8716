package guardian

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// recoverTick mirrors the teacher's runDepositIndexerLoop/
// HandleSubroutinePanic idiom: a panic inside one tick is logged with its
// stack trace and swallowed so the cron loop keeps running instead of
// crashing the process.
func recoverTick(logger logrus.FieldLogger, label string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Errorf("recovered from panic in %s", label)
	}
}
