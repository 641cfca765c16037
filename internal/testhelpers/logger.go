package testhelpers

import (
	"fmt"
	"strings"

	"github.com/onsi/ginkgo/v2"
)

// TestLogger implements the log.Logger interface for behavior tests. It
// writes through Ginkgo's writer, which is safe under parallel specs.
type TestLogger struct{}

// NewTestLogger creates a new TestLogger for Ginkgo tests.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logf logs a formatted message to the Ginkgo test output.
func (l *TestLogger) Logf(format string, args ...any) {
	ginkgo.GinkgoWriter.Printf(format+"\n", args...)
}

func (l *TestLogger) Debug(msg string, keysAndValues ...any) {
	l.log("Debug", msg, keysAndValues)
}

func (l *TestLogger) Info(msg string, keysAndValues ...any) {
	l.log("Info", msg, keysAndValues)
}

func (l *TestLogger) Warn(msg string, keysAndValues ...any) {
	l.log("Warn", msg, keysAndValues)
}

func (l *TestLogger) Error(msg string, keysAndValues ...any) {
	l.log("Error", msg, keysAndValues)
}

func (l *TestLogger) log(level, msg string, args []any) {
	var sb strings.Builder
	sb.WriteString(level)
	sb.WriteString(": ")
	sb.WriteString(msg)

	for i := 0; i+1 < len(args); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", args[i], args[i+1]))
	}

	ginkgo.GinkgoWriter.Println(sb.String())
}
