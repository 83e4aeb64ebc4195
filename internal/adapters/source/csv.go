// Package source turns external feeds into batches of raw sensor records.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// ErrBadCSV reports a CSV file whose header cannot be interpreted.
var ErrBadCSV = errors.New("unrecognized csv layout")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// descriptive columns of the wide export that are not channels
var wideMeta = map[string]bool{"timestamp": true, "machine_id": true, "machine_type": true}

// ParseTime accepts RFC 3339 and the plain layouts of the plant exports.
// Layouts without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ParseCSV reads either the wide layout
//
//	timestamp,machine_id[,machine_type],<channel>...
//
// or the long layout
//
//	timestamp,machine_id,channel,value[,unit]
//
// Unparseable cells become records carrying a ParseError that fails ingest
// validation, so rejects are reported per record instead of aborting the file.
func ParseCSV(r io.Reader) ([]model.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrBadCSV, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := col["timestamp"]; !ok {
		return nil, fmt.Errorf("%w: missing timestamp column", ErrBadCSV)
	}
	if _, ok := col["machine_id"]; !ok {
		return nil, fmt.Errorf("%w: missing machine_id column", ErrBadCSV)
	}

	_, hasChannel := col["channel"]
	_, hasValue := col["value"]
	if hasChannel && hasValue {
		return readLong(cr, col)
	}

	var channels []string
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if !wideMeta[name] && name != "" {
			channels = append(channels, name)
			col[name] = i
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channel columns", ErrBadCSV)
	}
	return readWide(cr, col, channels)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// decode fills the timestamp and value of rec from their cells. Cells that
// do not parse are reported on rec for validation to reject.
func decode(rec *model.RawRecord, ts, val string) {
	var problems []string
	if ts != "" {
		t, err := ParseTime(ts)
		if err != nil {
			problems = append(problems, err.Error())
		}
		rec.Timestamp = t
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		problems = append(problems, fmt.Sprintf("unparseable value %q", val))
		v = math.NaN()
	}
	rec.Value = v
	rec.ParseError = strings.Join(problems, "; ")
}

func readLong(cr *csv.Reader, col map[string]int) ([]model.RawRecord, error) {
	unitCol := -1
	if i, ok := col["unit"]; ok {
		unitCol = i
	}
	var out []model.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read csv: %w", err)
		}
		rec := model.RawRecord{
			MachineID: cell(row, col["machine_id"]),
			Channel:   cell(row, col["channel"]),
			Unit:      cell(row, unitCol),
		}
		decode(&rec, cell(row, col["timestamp"]), cell(row, col["value"]))
		out = append(out, rec)
	}
}

func readWide(cr *csv.Reader, col map[string]int, channels []string) ([]model.RawRecord, error) {
	var out []model.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read csv: %w", err)
		}
		machine := cell(row, col["machine_id"])
		ts := cell(row, col["timestamp"])
		for _, ch := range channels {
			raw := cell(row, col[ch])
			if raw == "" {
				continue
			}
			rec := model.RawRecord{MachineID: machine, Channel: ch}
			decode(&rec, ts, raw)
			out = append(out, rec)
		}
	}
}
