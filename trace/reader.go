package trace

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// A Reader iterates over the access events of a load trace. Trace lines
// have the form
//
//	instr_id, cycle_count, load_address, ip, llc_hit_miss
//
// with the addresses in hexadecimal. Lines that fail to parse are skipped
// and counted rather than aborting the run.
type Reader struct {
	scanner *bufio.Scanner
	closers []io.Closer

	line    int
	skipped int
}

// NewReader opens a trace file. Files ending in .gz are decompressed
// transparently.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}

	var src io.Reader = file
	closers := []io.Closer{file}

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening trace: %w", err)
		}

		src = gz
		closers = append([]io.Closer{gz}, closers...)
	}

	r := NewReaderFrom(src)
	r.closers = closers

	return r, nil
}

// NewReaderFrom creates a reader over an already-open stream.
func NewReaderFrom(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)

	return &Reader{scanner: scanner}
}

// Next returns the next well-formed event. It returns io.EOF once the
// trace is exhausted.
func (r *Reader) Next() (AccessEvent, error) {
	for r.scanner.Scan() {
		r.line++

		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}

		ev, err := ParseLine(text)
		if err != nil {
			r.skipped++
			continue
		}

		return ev, nil
	}

	if err := r.scanner.Err(); err != nil {
		return AccessEvent{}, err
	}

	return AccessEvent{}, io.EOF
}

// Skipped returns the number of malformed lines encountered so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}

	return nil
}

// ParseLine parses one trace line into an event.
func ParseLine(line string) (AccessEvent, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return AccessEvent{},
			fmt.Errorf("want 5 fields, got %d", len(fields))
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return AccessEvent{}, fmt.Errorf("instruction id: %w", err)
	}

	cycle, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return AccessEvent{}, fmt.Errorf("cycle count: %w", err)
	}

	addr, err := parseHex(fields[2])
	if err != nil {
		return AccessEvent{}, fmt.Errorf("load address: %w", err)
	}

	ip, err := parseHex(fields[3])
	if err != nil {
		return AccessEvent{}, fmt.Errorf("instruction pointer: %w", err)
	}

	hit, err := parseHit(fields[4])
	if err != nil {
		return AccessEvent{}, err
	}

	return AccessEvent{
		ID:    id,
		Cycle: cycle,
		Addr:  addr,
		IP:    ip,
		Hit:   hit,
	}, nil
}

func parseHex(field string) (uint64, error) {
	field = strings.TrimPrefix(strings.ToLower(field), "0x")
	return strconv.ParseUint(field, 16, 64)
}

func parseHit(field string) (bool, error) {
	switch strings.ToLower(field) {
	case "1", "hit":
		return true, nil
	case "0", "miss":
		return false, nil
	}

	return false, fmt.Errorf("hit flag %q not recognized", field)
}
