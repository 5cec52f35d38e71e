// Package loader parses the corpus row files. Each file is a JSON array of
// string arrays; the position of a value in its row decides which field it
// fills, so every record type declares its own field order.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"apollorag/internal/domain"
)

// Field order per record type.
const (
	utteranceTimestamp = iota
	utteranceSpeaker
	utteranceText
	utteranceSpeakerID
	utteranceFields
)

const (
	tocStartDate = iota
	tocTitle
	tocDescription
	tocFields
)

const (
	photoTimestamp = iota
	photoName
	photoInternalURL
	photoExternalURL
	photoDescription
	photoFields
)

// RowError describes a rejected row.
type RowError struct {
	File   string
	Row    int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.File, e.Row, e.Reason)
}

// Report summarises one file.
type Report struct {
	File     string
	Rows     int
	Accepted int
	Filtered int        // valid rows excluded by a content rule
	Errors   []RowError // malformed rows
}

// ReadRows decodes a row file.
func ReadRows(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("error decoding file %s: %w", path, err)
	}
	return rows, nil
}

// ParseUtterances maps rows to utterances. Rows with a blank speaker,
// speaker id or text, or whose text is "...", are filtered.
func ParseUtterances(file string, rows [][]string) ([]domain.Utterance, Report) {
	report := Report{File: file, Rows: len(rows)}
	out := make([]domain.Utterance, 0, len(rows))

	for i, row := range rows {
		if len(row) != utteranceFields {
			report.Errors = append(report.Errors, RowError{file, i, fmt.Sprintf("expected %d fields, got %d", utteranceFields, len(row))})
			continue
		}
		u := domain.Utterance{
			ID:        row[utteranceTimestamp],
			Speaker:   row[utteranceSpeaker],
			Text:      row[utteranceText],
			SpeakerID: row[utteranceSpeakerID],
		}
		if !validUtterance(u) {
			report.Filtered++
			continue
		}
		offset, err := MissionSeconds(u.ID)
		if err != nil {
			report.Errors = append(report.Errors, RowError{file, i, err.Error()})
			continue
		}
		u.Offset = offset
		out = append(out, u)
	}

	report.Accepted = len(out)
	return out, report
}

func validUtterance(u domain.Utterance) bool {
	return strings.TrimSpace(u.Speaker) != "" &&
		strings.TrimSpace(u.SpeakerID) != "" &&
		strings.TrimSpace(u.Text) != "" &&
		u.Text != "..."
}

// ParseTOC maps rows to segments. Video entries are filtered.
func ParseTOC(file string, rows [][]string) ([]domain.Segment, Report) {
	report := Report{File: file, Rows: len(rows)}
	out := make([]domain.Segment, 0, len(rows))

	for i, row := range rows {
		if len(row) != tocFields {
			report.Errors = append(report.Errors, RowError{file, i, fmt.Sprintf("expected %d fields, got %d", tocFields, len(row))})
			continue
		}
		if strings.HasPrefix(row[tocDescription], "Video: ") {
			report.Filtered++
			continue
		}
		start, err := ClockSeconds(row[tocStartDate])
		if err != nil {
			report.Errors = append(report.Errors, RowError{file, i, err.Error()})
			continue
		}
		out = append(out, domain.Segment{
			ID:          SegmentID(row[tocStartDate]),
			StartOffset: start,
			Title:       row[tocTitle],
			Description: row[tocDescription],
		})
	}

	report.Accepted = len(out)
	return out, report
}

// ParsePhotographs maps rows to photographs. imagePath derives the stored
// image location from the photograph's mission offset.
func ParsePhotographs(file string, rows [][]string, imagePath func(offset int) string) ([]domain.Photograph, Report) {
	report := Report{File: file, Rows: len(rows)}
	out := make([]domain.Photograph, 0, len(rows))

	for i, row := range rows {
		if len(row) != photoFields {
			report.Errors = append(report.Errors, RowError{file, i, fmt.Sprintf("expected %d fields, got %d", photoFields, len(row))})
			continue
		}
		ts := row[photoTimestamp]
		n, err := strconv.Atoi(ts)
		if err != nil || strings.TrimSpace(row[photoName]) == "" {
			report.Errors = append(report.Errors, RowError{file, i, fmt.Sprintf("invalid photograph %q", ts)})
			continue
		}
		out = append(out, domain.Photograph{
			ID:          ts,
			Name:        row[photoName],
			ImagePath:   imagePath(n),
			ExternalURL: row[photoExternalURL],
			Description: row[photoDescription],
		})
	}

	report.Accepted = len(out)
	return out, report
}

// MissionSeconds converts a fixed-width "HHHMMSS" timestamp to seconds.
// A leading '-' takes the place of the first hour digit.
func MissionSeconds(ts string) (int, error) {
	if len(ts) != 7 {
		return 0, fmt.Errorf("timestamp format is invalid: %q", ts)
	}
	negative := ts[0] == '-'
	hourPart := ts[0:3]
	if negative {
		hourPart = ts[1:3]
	}
	h, err1 := strconv.Atoi(hourPart)
	m, err2 := strconv.Atoi(ts[3:5])
	s, err3 := strconv.Atoi(ts[5:7])
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || s < 0 {
		return 0, fmt.Errorf("timestamp format is invalid: %q", ts)
	}
	total := h*3600 + m*60 + s
	if negative {
		total = -total
	}
	return total, nil
}

// ClockSeconds converts "HH:MM:SS" or "-HH:MM:SS" to seconds.
func ClockSeconds(ts string) (int, error) {
	negative := strings.HasPrefix(ts, "-")
	parts := strings.Split(strings.TrimPrefix(ts, "-"), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("start date format is invalid: %q", ts)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("start date format is invalid: %q", ts)
		}
		vals[i] = v
	}
	total := vals[0]*3600 + vals[1]*60 + vals[2]
	if negative {
		total = -total
	}
	return total, nil
}

// SegmentID derives the segment key from its start date.
func SegmentID(startDate string) string {
	return strings.ReplaceAll(startDate, ":", ";")
}
