package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"apollorag/config"
	"apollorag/internal/adapter/loader"
	"apollorag/internal/domain"
	"apollorag/internal/port"
)

// Bulk save sizes per record type.
const (
	utteranceChunkSize  = 1000
	segmentChunkSize    = 100
	photographChunkSize = 100
)

// LoadUseCase reads the corpus row files into the record store.
type LoadUseCase struct {
	records port.RecordStore
	noise   port.NoiseCounter
	finder  port.FileFinder
	data    config.DataConfig
	logger  *slog.Logger
}

// NewLoadUseCase creates a new load use case.
func NewLoadUseCase(records port.RecordStore, noise port.NoiseCounter, finder port.FileFinder, data config.DataConfig, logger *slog.Logger) *LoadUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadUseCase{
		records: records,
		noise:   noise,
		finder:  finder,
		data:    data,
		logger:  logger,
	}
}

// LoadResult contains the results of loading one record type.
type LoadResult struct {
	Files   int
	Saved   int
	Skipped int // existing records left untouched
	Reports []loader.Report
}

// Rejected returns the number of malformed rows over all files.
func (r *LoadResult) Rejected() int {
	n := 0
	for _, rep := range r.Reports {
		n += len(rep.Errors)
	}
	return n
}

// ImagePath is where the image of the photograph taken at offset lives.
func ImagePath(imagesDir string, offset int) string {
	return filepath.Join(imagesDir, "images", "apollo11", strconv.Itoa(offset)+".jpg")
}

// LoadUtterances loads every utterance file and counts each newly stored
// utterance text towards the noise filter. Utterances are immutable, so ids
// already in the store are skipped and never counted twice.
func (u *LoadUseCase) LoadUtterances(ctx context.Context) (*LoadResult, error) {
	files, err := u.find(u.data.Utterances)
	if err != nil {
		return nil, err
	}

	stored, err := u.records.ListUtterances()
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}
	seen := make(map[string]bool, len(stored))
	for _, utt := range stored {
		seen[utt.ID] = true
	}

	result := &LoadResult{Files: len(files)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rows, err := loader.ReadRows(file)
		if err != nil {
			return result, err
		}
		utterances, report := loader.ParseUtterances(file, rows)
		u.logReport("utterances", report)
		result.Reports = append(result.Reports, report)

		fresh := utterances[:0:0]
		for _, utt := range utterances {
			if seen[utt.ID] {
				result.Skipped++
				continue
			}
			seen[utt.ID] = true
			fresh = append(fresh, utt)
		}

		for start := 0; start < len(fresh); start += utteranceChunkSize {
			chunk := fresh[start:min(start+utteranceChunkSize, len(fresh))]
			if err := u.records.PutUtterances(chunk); err != nil {
				return result, fmt.Errorf("failed to save utterances from %s: %w", file, err)
			}

			texts := make([]string, len(chunk))
			for i, utt := range chunk {
				texts[i] = utt.Text
			}
			if err := u.noise.Increment(ctx, texts); err != nil {
				return result, fmt.Errorf("failed to count utterance texts: %w", err)
			}
			result.Saved += len(chunk)
		}
	}

	u.logger.Info("utterance data loaded", "files", result.Files, "saved", result.Saved, "skipped", result.Skipped)
	return result, nil
}

// LoadTOC loads table-of-contents files. Reloading a segment refreshes its
// title, description and start but keeps its window and enrichment.
func (u *LoadUseCase) LoadTOC(ctx context.Context) (*LoadResult, error) {
	files, err := u.find(u.data.TOC)
	if err != nil {
		return nil, err
	}

	existing, err := u.records.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	byID := make(map[string]domain.Segment, len(existing))
	for _, seg := range existing {
		byID[seg.ID] = seg
	}

	result := &LoadResult{Files: len(files)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rows, err := loader.ReadRows(file)
		if err != nil {
			return result, err
		}
		segments, report := loader.ParseTOC(file, rows)
		u.logReport("toc", report)
		result.Reports = append(result.Reports, report)

		for i, seg := range segments {
			if old, ok := byID[seg.ID]; ok {
				old.StartOffset = seg.StartOffset
				old.Title = seg.Title
				old.Description = seg.Description
				segments[i] = old
			}
		}

		for start := 0; start < len(segments); start += segmentChunkSize {
			chunk := segments[start:min(start+segmentChunkSize, len(segments))]
			if err := u.records.PutSegments(chunk); err != nil {
				return result, fmt.Errorf("failed to save segments from %s: %w", file, err)
			}
			result.Saved += len(chunk)
		}
	}

	u.logger.Info("toc data loaded", "files", result.Files, "saved", result.Saved)
	return result, nil
}

// LoadPhotographs loads photograph files. Existing photographs are skipped
// unless overwrite is set.
func (u *LoadUseCase) LoadPhotographs(ctx context.Context, overwrite bool) (*LoadResult, error) {
	files, err := u.find(u.data.Photographs)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool)
	if !overwrite {
		photos, err := u.records.ListPhotographs()
		if err != nil {
			return nil, fmt.Errorf("failed to list photographs: %w", err)
		}
		for _, p := range photos {
			existing[p.ID] = true
		}
	}

	imagePath := func(offset int) string { return ImagePath(u.data.ImagesDir, offset) }

	result := &LoadResult{Files: len(files)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rows, err := loader.ReadRows(file)
		if err != nil {
			return result, err
		}
		photos, report := loader.ParsePhotographs(file, rows, imagePath)
		u.logReport("photographs", report)
		result.Reports = append(result.Reports, report)

		pending := photos[:0]
		for _, p := range photos {
			if existing[p.ID] {
				result.Skipped++
				continue
			}
			pending = append(pending, p)
		}

		for start := 0; start < len(pending); start += photographChunkSize {
			chunk := pending[start:min(start+photographChunkSize, len(pending))]
			if err := u.records.PutPhotographs(chunk); err != nil {
				return result, fmt.Errorf("failed to save photographs from %s: %w", file, err)
			}
			result.Saved += len(chunk)
		}
	}

	u.logger.Info("photograph data loaded", "files", result.Files, "saved", result.Saved, "skipped", result.Skipped)
	return result, nil
}

func (u *LoadUseCase) find(patterns []string) ([]string, error) {
	files, err := u.finder.Find(u.data.Dir, patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to find data files in %s: %w", u.data.Dir, err)
	}
	if len(files) == 0 {
		u.logger.Warn("no data files matched", "dir", u.data.Dir, "patterns", patterns)
	}
	return files, nil
}

func (u *LoadUseCase) logReport(kind string, report loader.Report) {
	for _, e := range report.Errors {
		u.logger.Warn("skipped malformed row", "kind", kind, "file", e.File, "row", e.Row, "reason", e.Reason)
	}
	u.logger.Info("parsed file", "kind", kind, "file", report.File, "rows", report.Rows, "accepted", report.Accepted, "filtered", report.Filtered, "rejected", len(report.Errors))
}
