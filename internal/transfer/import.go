package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
)

// maxLineBytes bounds a single JSONL record. Observation bodies top out at
// 100 KB, so this leaves generous room for field overhead.
const maxLineBytes = 2 << 20

// txBatchRows is the most rows one import transaction writes.
const txBatchRows = 100

// ImportError ties a rejected line to its position in the stream.
type ImportError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportResult reports what an import did (or would do, under dry run).
type ImportResult struct {
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	ByType   map[string]int `json:"by_type"`
	Errors   []ImportError  `json:"errors,omitempty"`
	DryRun   bool           `json:"dry_run"`
}

// Importer replays a JSONL stream into a store.
type Importer struct {
	store *store.Store
}

// NewImporter builds an importer over st.
func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st}
}

// probe pulls just enough out of a line to classify it.
type probe struct {
	Meta json.RawMessage `json:"_meta"`
	Type string          `json:"_type"`
}

// Import reads r line by line. Blank lines and `_meta` records are skipped;
// malformed or incomplete records are collected as errors without aborting
// the stream; records the store already holds are skipped. With dryRun the
// stream is fully validated and deduplicated but nothing is written.
func (im *Importer) Import(ctx context.Context, r io.Reader, dryRun bool) (*ImportResult, error) {
	seen, err := im.loadExistingKeys(ctx)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		ByType: map[string]int{TypeObservation: 0, TypeSummary: 0, TypePrompt: 0},
		DryRun: dryRun,
	}

	var (
		pendingObs     []*store.Observation
		pendingSums    []*store.Summary
		pendingPrompts []*store.UserPrompt
	)
	pendingRows := func() int {
		return len(pendingObs) + len(pendingSums) + len(pendingPrompts)
	}
	flush := func() error {
		if dryRun || pendingRows() == 0 {
			return nil
		}
		if err := im.store.ImportBatch(ctx, pendingObs, pendingSums, pendingPrompts); err != nil {
			return apperr.Wrap(apperr.KindInternal, "write import batch", err)
		}
		pendingObs = pendingObs[:0]
		pendingSums = pendingSums[:0]
		pendingPrompts = pendingPrompts[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var p probe
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			result.addError(lineNo, "invalid JSON: "+err.Error())
			continue
		}
		if len(p.Meta) > 0 {
			continue
		}

		switch p.Type {
		case TypeObservation:
			var o store.Observation
			if err := json.Unmarshal([]byte(line), &o); err != nil {
				result.addError(lineNo, "invalid observation: "+err.Error())
				continue
			}
			if o.Type == "" || o.Title == "" {
				result.addError(lineNo, "observation requires type and title")
				continue
			}
			key := TypeObservation + ":" + observationKey(&o)
			if seen[key] {
				result.Skipped++
				continue
			}
			seen[key] = true
			result.Imported++
			result.ByType[TypeObservation]++
			pendingObs = append(pendingObs, &o)

		case TypeSummary:
			var sm store.Summary
			if err := json.Unmarshal([]byte(line), &sm); err != nil {
				result.addError(lineNo, "invalid summary: "+err.Error())
				continue
			}
			if sm.Project == "" {
				result.addError(lineNo, "summary requires project")
				continue
			}
			key := TypeSummary + ":" + summaryKey(&sm)
			if seen[key] {
				result.Skipped++
				continue
			}
			seen[key] = true
			result.Imported++
			result.ByType[TypeSummary]++
			pendingSums = append(pendingSums, &sm)

		case TypePrompt:
			var up store.UserPrompt
			if err := json.Unmarshal([]byte(line), &up); err != nil {
				result.addError(lineNo, "invalid prompt: "+err.Error())
				continue
			}
			if up.ContentSessionID == "" || up.PromptText == "" {
				result.addError(lineNo, "prompt requires content_session_id and prompt_text")
				continue
			}
			key := TypePrompt + ":" + promptKey(&up)
			if seen[key] {
				result.Skipped++
				continue
			}
			seen[key] = true
			result.Imported++
			result.ByType[TypePrompt]++
			pendingPrompts = append(pendingPrompts, &up)

		case "":
			result.addError(lineNo, "record missing _type")
		default:
			result.addError(lineNo, fmt.Sprintf("unknown _type %q", p.Type))
		}

		if pendingRows() >= txBatchRows {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "read import stream", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logging.Get(logging.CategoryTransfer).Infow("import finished",
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"dry_run", dryRun)
	return result, nil
}

func (r *ImportResult) addError(line int, msg string) {
	r.Errors = append(r.Errors, ImportError{Line: line, Message: msg})
}

// loadExistingKeys walks the store once and hashes every row the importer
// could collide with.
func (im *Importer) loadExistingKeys(ctx context.Context) (map[string]bool, error) {
	seen := make(map[string]bool)

	var afterID int64
	for {
		batch, err := im.store.ObservationsAfter(ctx, "", "", afterID, pageSize)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan existing observations", err)
		}
		for _, o := range batch {
			key := o.ContentHash
			if key == "" {
				key = observationKey(o)
			}
			seen[TypeObservation+":"+key] = true
		}
		if len(batch) < pageSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	afterID = 0
	for {
		batch, err := im.store.SummariesAfter(ctx, "", afterID, pageSize)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan existing summaries", err)
		}
		for _, sm := range batch {
			seen[TypeSummary+":"+summaryKey(sm)] = true
		}
		if len(batch) < pageSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	afterID = 0
	for {
		batch, err := im.store.PromptsAfter(ctx, "", afterID, pageSize)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan existing prompts", err)
		}
		for _, p := range batch {
			seen[TypePrompt+":"+promptKey(p)] = true
		}
		if len(batch) < pageSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	return seen, nil
}
