package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// filePattern is the strftime pattern of the day-partitioned log files.
const filePattern = "bot-%Y-%m-%d.log"

// Retention is how long daily log files are kept.
const Retention = 30 * 24 * time.Hour

// NewDailyFile creates dir if needed and returns a writer appending to one
// file per UTC calendar day. Files older than Retention are removed when
// the writer moves to a new day.
func NewDailyFile(dir string) (*rotatelogs.RotateLogs, error) {
	return newDailyFile(dir, rotatelogs.UTC)
}

func newDailyFile(dir string, clock rotatelogs.Clock) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w, err := rotatelogs.New(
		filepath.Join(dir, filePattern),
		rotatelogs.WithClock(clock),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(Retention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open daily log: %w", err)
	}
	return w, nil
}

// FileName returns the log file name for the UTC day of t.
func FileName(t time.Time) string {
	return fmt.Sprintf("bot-%s.log", t.UTC().Format("2006-01-02"))
}

// Tail returns up to n trailing lines of the log file for day t. A missing
// file returns os.ErrNotExist.
func Tail(dir string, t time.Time, n int) ([]string, error) {
	file, err := os.Open(filepath.Join(dir, FileName(t)))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, bufio.ErrTooLong) {
		return nil, err
	}

	return lines, nil
}
