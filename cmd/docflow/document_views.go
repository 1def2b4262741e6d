package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"docflow/internal/document"
)

type errorView struct {
	Kind        string `json:"kind"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type documentView struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	SourcePath        string                     `json:"sourcePath"`
	Stage             string                     `json:"stage"`
	Status            string                     `json:"status"`
	Progress          int                        `json:"progress"`
	Version           int64                      `json:"version"`
	EntityRecognition bool                       `json:"entityRecognition"`
	EntityConfirmed   bool                       `json:"entityConfirmed"`
	EntityMode        string                     `json:"entityMode,omitempty"`
	LastError         *errorView                 `json:"lastError,omitempty"`
	Actions           []string                   `json:"actions"`
	Payloads          map[string]json.RawMessage `json:"payloads,omitempty"`
	CreatedAt         time.Time                  `json:"createdAt"`
	UpdatedAt         time.Time                  `json:"updatedAt"`
}

func newDocumentView(rec *document.Record, withPayloads bool) documentView {
	view := documentView{
		ID:                rec.ID,
		Name:              rec.Name,
		SourcePath:        rec.SourcePath,
		Stage:             rec.Stage.String(),
		Status:            string(rec.CoarseStatus),
		Progress:          rec.EffectiveProgress(),
		Version:           rec.Version,
		EntityRecognition: rec.EntityRecognitionEnabled,
		EntityConfirmed:   rec.EntityRecognitionConfirmed,
		EntityMode:        rec.EntityMode,
		Actions:           actionNames(document.AvailableActions(rec)),
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
	if rec.LastError != nil {
		view.LastError = &errorView{
			Kind:        rec.LastError.Kind,
			Stage:       rec.LastError.Stage,
			Message:     rec.LastError.Message,
			Recoverable: rec.LastError.Recoverable,
		}
	}
	if withPayloads && len(rec.Payloads) > 0 {
		view.Payloads = make(map[string]json.RawMessage, len(rec.Payloads))
		for slot, raw := range rec.Payloads {
			view.Payloads[string(slot)] = raw
		}
	}
	return view
}

func actionNames(actions []document.Action) []string {
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}
	return names
}

func buildDocumentRows(records []*document.Record, colorize bool) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := colorizeText(string(rec.CoarseStatus), coarseKind(rec.CoarseStatus), colorize)
		rows = append(rows, []string{
			shortDocumentID(rec.ID),
			rec.Name,
			rec.Stage.Label(),
			status,
			strconv.Itoa(rec.EffectiveProgress()) + "%",
			strconv.FormatInt(rec.Version, 10),
			rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func buildCountRows(counts map[document.CoarseStatus]int) [][]string {
	keys := make([]string, 0, len(counts))
	for status, count := range counts {
		if count > 0 {
			keys = append(keys, string(status))
		}
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(counts[document.CoarseStatus(key)])})
	}
	return rows
}

func shortDocumentID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func describeDocument(rec *document.Record, colorize bool) []string {
	lines := renderSectionHeader(rec.Name, colorize)
	lines = append(lines,
		renderStatusLine("ID", statusInfo, rec.ID, false),
		renderStatusLine("Source", statusInfo, rec.SourcePath, false),
		renderStatusLine("Stage", coarseKind(rec.CoarseStatus), fmt.Sprintf("%s (%s)", rec.Stage.Label(), rec.CoarseStatus), colorize),
		renderStatusLine("Progress", statusInfo, fmt.Sprintf("%d%%", rec.EffectiveProgress()), false),
		renderStatusLine("Version", statusInfo, strconv.FormatInt(rec.Version, 10), false),
		renderStatusLine("Entities", statusInfo, fmt.Sprintf("enabled=%s confirmed=%s mode=%s",
			yesNo(rec.EntityRecognitionEnabled), yesNo(rec.EntityRecognitionConfirmed), valueOrDash(rec.EntityMode)), false),
	)
	if rec.LastError != nil {
		kind := statusError
		if rec.LastError.Recoverable {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last error", kind,
			fmt.Sprintf("%s at %s: %s", rec.LastError.Kind, valueOrDash(rec.LastError.Stage), rec.LastError.Message), colorize))
	}
	if actions := actionNames(document.AvailableActions(rec)); len(actions) > 0 {
		lines = append(lines, renderStatusLine("Actions", statusInfo, strings.Join(actions, ", "), false))
	}
	if len(rec.Payloads) > 0 {
		slots := make([]string, 0, len(rec.Payloads))
		for slot := range rec.Payloads {
			slots = append(slots, string(slot))
		}
		sort.Strings(slots)
		lines = append(lines, renderStatusLine("Payloads", statusInfo, strings.Join(slots, ", "), false))
	}
	return lines
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
