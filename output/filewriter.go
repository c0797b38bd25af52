package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/qfetch/prefetch"
)

// A FileWriter stores predictions in the plain-text format of the ISCA
// 2021 ML prefetching competition: one "instr_id prefetch_addr" pair per
// line, both hexadecimal.
type FileWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
}

// NewFileWriter creates the output directory when needed and opens the
// output file. It panics when the file already exists, so that a rerun
// never silently destroys an earlier result.
func NewFileWriter(dir, name string) *FileWriter {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			panic(err)
		}
	}

	path := filepath.Join(dir, name)

	_, err := os.Stat(path)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", path))
	}

	file, err := os.Create(path)
	if err != nil {
		panic(err)
	}

	w := &FileWriter{
		path: path,
		file: file,
		buf:  bufio.NewWriter(file),
	}

	atexit.Register(func() { w.buf.Flush() })

	return w
}

// WritePrefetch appends one prediction line.
func (w *FileWriter) WritePrefetch(p prefetch.Prefetch) error {
	_, err := fmt.Fprintf(w.buf, "%x %x\n", p.InstrID, p.Addr)
	return err
}

// Close flushes and closes the output file.
func (w *FileWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}

	return w.file.Close()
}

// Path returns where the predictions are written.
func (w *FileWriter) Path() string {
	return w.path
}
