package sink

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// LocalLog appends one line per sample to a flat file. The file is opened
// and closed around every write so no handle survives a power cut.
type LocalLog struct {
	path    string
	format  telemetry.Format
	counter *failure.Counter
}

// NewLocalLog creates a local-log sink writing to path.
func NewLocalLog(path string, format telemetry.Format, counter *failure.Counter) *LocalLog {
	return &LocalLog{path: path, format: format, counter: counter}
}

// Name returns NameLocal.
func (l *LocalLog) Name() string { return NameLocal }

// Deliver appends the sample. Failures are counted and returned but never
// escalate: a missing card must not stop the network sinks.
func (l *LocalLog) Deliver(_ context.Context, s telemetry.Sample) error {
	line, err := s.Line(l.format)
	if err != nil {
		return l.fail(fmt.Errorf("format: %w", err))
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return l.fail(fmt.Errorf("open %s: %w", l.path, err))
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return l.fail(fmt.Errorf("write %s: %w", l.path, err))
	}
	if err := f.Close(); err != nil {
		return l.fail(fmt.Errorf("close %s: %w", l.path, err))
	}

	l.counter.Reset()
	log.WithField("sink", NameLocal).Printf("logged %s", line)
	return nil
}

func (l *LocalLog) fail(err error) error {
	n := l.counter.Increment()
	log.WithFields(log.Fields{"sink": NameLocal, "count": n}).Printf("local log failed: %v", err)
	return err
}
