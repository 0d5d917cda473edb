// Package summary writes scalar summaries keyed by step as JSON lines
package summary

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// File is the name of the summary file in a log directory
const File = "summaries.jsonl"

// Scalar is one scalar summary
type Scalar struct {
	RunID    string  `json:"run_id,omitempty"`
	Step     int     `json:"step"`
	Tag      string  `json:"tag"`
	Value    float64 `json:"value"`
	WallTime float64 `json:"wall_time"`
}

// Writer appends scalar summaries to a file
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
	runID   string
}

// NewWriter returns a Writer which appends to the summary file in dir.
// Each scalar is stamped with runID.
func NewWriter(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newWriter: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, File),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("newWriter: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &Writer{
		file:    file,
		buf:     buf,
		encoder: json.NewEncoder(buf),
		runID:   runID,
	}, nil
}

// Scalar records value under tag at step
func (w *Writer) Scalar(tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(tag, value, step, time.Now())
}

// Scalars records each value under its key at step, in order of the
// keys
func (w *Writer) Scalars(values map[string]float64, step int) error {
	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for _, tag := range tags {
		if err := w.write(tag, values[tag], step, now); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) write(tag string, value float64, step int,
	now time.Time) error {
	s := Scalar{
		RunID:    w.runID,
		Step:     step,
		Tag:      tag,
		Value:    value,
		WallTime: float64(now.UnixNano()) / 1e9,
	}
	if err := w.encoder.Encode(s); err != nil {
		return fmt.Errorf("scalar: %w", err)
	}
	return nil
}

// Flush writes buffered summaries to the file
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes and closes the summary file
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("close: %w", err)
	}
	return w.file.Close()
}

// Read returns all scalars in the summary file of dir
func Read(dir string) ([]Scalar, error) {
	file, err := os.Open(filepath.Join(dir, File))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer file.Close()

	var scalars []Scalar
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var s Scalar
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		scalars = append(scalars, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return scalars, nil
}

// Tag returns the values recorded under tag in order of steps recorded
func Tag(scalars []Scalar, tag string) []float64 {
	var values []float64
	for _, s := range scalars {
		if s.Tag == tag {
			values = append(values, s.Value)
		}
	}
	return values
}
