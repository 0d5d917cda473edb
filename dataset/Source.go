package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Source provides the examples of one pass over a dataset
type Source interface {
	// Open starts a new pass over the examples
	Open() (ExampleIterator, error)
}

// ExampleIterator iterates over the examples of one pass. Next returns
// io.EOF after the last example.
type ExampleIterator interface {
	Next() (Example, error)
	Close() error
}

// Glob returns the sorted files matching any of the patterns. It is an
// error if no file matches.
func Glob(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob: %w", err)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				files = append(files, match)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("glob: no files match %v", patterns)
	}
	sort.Strings(files)
	return files, nil
}

// fileSource reads tf.Examples from TFRecord files
type fileSource struct {
	files []string
}

// NewFileSource returns a Source which reads the TFRecord files
// matching patterns, in sorted order
func NewFileSource(patterns []string) (Source, error) {
	files, err := Glob(patterns)
	if err != nil {
		return nil, fmt.Errorf("newFileSource: %w", err)
	}
	return &fileSource{files: files}, nil
}

// Open implements the Source interface
func (f *fileSource) Open() (ExampleIterator, error) {
	return &fileIterator{files: f.files}, nil
}

type fileIterator struct {
	files   []string
	current *os.File
	reader  *RecordReader
}

// Next implements the ExampleIterator interface
func (f *fileIterator) Next() (Example, error) {
	for {
		if f.reader == nil {
			if len(f.files) == 0 {
				return nil, io.EOF
			}
			file, err := os.Open(f.files[0])
			if err != nil {
				return nil, fmt.Errorf("next: %w", err)
			}
			f.current = file
			f.reader = NewRecordReader(bufio.NewReader(file))
		}

		record, err := f.reader.Next()
		if err == io.EOF {
			f.files = f.files[1:]
			if err := f.closeCurrent(); err != nil {
				return nil, fmt.Errorf("next: %w", err)
			}
			continue
		} else if err != nil {
			return nil, fmt.Errorf("next: %v: %w", f.current.Name(), err)
		}

		example, err := ParseExample(record)
		if err != nil {
			return nil, fmt.Errorf("next: %v: %w", f.current.Name(), err)
		}
		return example, nil
	}
}

func (f *fileIterator) closeCurrent() error {
	f.reader = nil
	if f.current == nil {
		return nil
	}
	err := f.current.Close()
	f.current = nil
	return err
}

// Close implements the ExampleIterator interface
func (f *fileIterator) Close() error {
	return f.closeCurrent()
}

// memorySource serves examples held in memory
type memorySource struct {
	examples []Example
}

// NewMemorySource returns a Source over examples
func NewMemorySource(examples []Example) Source {
	return &memorySource{examples: examples}
}

// Open implements the Source interface
func (m *memorySource) Open() (ExampleIterator, error) {
	return &memoryIterator{examples: m.examples}, nil
}

type memoryIterator struct {
	examples []Example
	next     int
}

func (m *memoryIterator) Next() (Example, error) {
	if m.next >= len(m.examples) {
		return nil, io.EOF
	}
	m.next++
	return m.examples[m.next-1], nil
}

func (m *memoryIterator) Close() error { return nil }

// WriteFile writes examples as a TFRecord file at path
func WriteFile(path string, examples []Example) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writeFile: %w", err)
	}
	buffered := bufio.NewWriter(file)
	writer := NewRecordWriter(buffered)

	for _, example := range examples {
		if err := writer.Write(example.Marshal()); err != nil {
			file.Close()
			return fmt.Errorf("writeFile: %w", err)
		}
	}
	if err := buffered.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("writeFile: %w", err)
	}
	return file.Close()
}
