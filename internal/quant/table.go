// Package quant is a reference INT8 quantizer that drives a calibration
// source to completion and records one symmetric scale per tensor.
package quant

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Header identifies cache files written by this package.
const Header = "ENGINEPREP-MaxAbsCalibration"

// Table maps tensor names to their INT8 scale.
type Table struct {
	Header string
	Scales map[string]float32
}

// NewTable returns an empty table with the package header.
func NewTable() *Table {
	return &Table{Header: Header, Scales: map[string]float32{}}
}

// Names returns the tensor names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Scales))
	for n := range t.Scales {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Format encodes the table as a header line followed by one
// "name: <hex float32 bits>" line per tensor.
func (t *Table) Format() []byte {
	var buf bytes.Buffer
	header := t.Header
	if header == "" {
		header = Header
	}
	buf.WriteString(header)
	buf.WriteByte('\n')
	for _, name := range t.Names() {
		fmt.Fprintf(&buf, "%s: %08x\n", name, math.Float32bits(t.Scales[name]))
	}
	return buf.Bytes()
}

// ParseTable decodes a cache written by Format. Tensor names may contain
// ": " themselves; the value is taken after the last separator.
func ParseTable(blob []byte) (*Table, error) {
	sc := bufio.NewScanner(bytes.NewReader(blob))
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("parse calibration table: %w", err)
		}
		return nil, fmt.Errorf("parse calibration table: empty")
	}
	t := &Table{Header: strings.TrimSpace(sc.Text()), Scales: map[string]float32{}}
	if t.Header == "" {
		return nil, fmt.Errorf("parse calibration table: missing header")
	}
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		i := strings.LastIndex(text, ": ")
		if i <= 0 {
			return nil, fmt.Errorf("parse calibration table: line %d: expected \"name: value\"", line)
		}
		bits, err := strconv.ParseUint(strings.TrimSpace(text[i+2:]), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("parse calibration table: line %d: %w", line, err)
		}
		t.Scales[text[:i]] = math.Float32frombits(uint32(bits))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse calibration table: %w", err)
	}
	return t, nil
}
