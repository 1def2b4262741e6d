package llm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docflow/internal/services"
)

// DefaultBatchSize bounds how many regions go into one completion request.
const DefaultBatchSize = 30

const operationRefine = "llm refine"

const refineSystemPrompt = "You are a professional Chinese-English translator."

var lineProtocol = regexp.MustCompile(`^\[(\d+)\]\s*(.+)$`)

// Region is one OCR region submitted for refinement. Draft is the machine
// translation produced by extraction, if any.
type Region struct {
	ID    int
	Text  string
	Draft string
}

// Term is an approved source to target entity mapping.
type Term struct {
	Source string
	Target string
}

// RefineRequest is one batch of regions plus optional entity guidance.
type RefineRequest struct {
	Regions  []Region
	Guidance []Term
}

// RegionResult is the refined translation of one region.
type RegionResult struct {
	ID          int    `json:"id"`
	Translation string `json:"translation"`
	Original    string `json:"original,omitempty"`
}

// Result is the refinement output for a set of regions.
type Result struct {
	RefinedText string         `json:"refinedText"`
	PerRegion   []RegionResult `json:"perRegion"`
}

// Batches splits regions into groups of at most size, skipping regions
// without source text.
func Batches(regions []Region, size int) [][]Region {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var (
		out     [][]Region
		current []Region
	)
	for _, region := range regions {
		if strings.TrimSpace(region.Text) == "" {
			continue
		}
		current = append(current, region)
		if len(current) == size {
			out = append(out, current)
			current = nil
		}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// Refine sends one batch to the model and parses the `[id] text` reply.
// Regions the model skipped are omitted from the result. A reply with no
// parseable lines is a fatal malformed response.
func (c *Client) Refine(ctx context.Context, req RefineRequest) (Result, error) {
	if len(req.Regions) == 0 {
		return Result{}, nil
	}
	content, err := c.Complete(ctx, refineSystemPrompt, BuildRefinePrompt(req))
	if err != nil {
		return Result{}, err
	}
	perRegion := ParseRefineOutput(content, req.Regions)
	if len(perRegion) == 0 {
		return Result{}, services.Wrap(services.ErrUpstream, "", operationRefine,
			"no [id] lines in model output: "+snippet(content, 160), nil)
	}
	return Merge(perRegion), nil
}

// BuildRefinePrompt renders the user prompt for one batch.
func BuildRefinePrompt(req RefineRequest) string {
	var b strings.Builder
	count := len(req.Regions)
	b.WriteString("You are a Chinese-English translator. For each input text:\n\n")
	b.WriteString("TRANSLATION RULES:\n")
	b.WriteString("- Chinese characters: translate to English\n")
	b.WriteString("- English text: keep unchanged\n")
	b.WriteString("- Mixed Chinese-English: translate only the Chinese parts\n")
	b.WriteString("- Names and proper nouns: translate appropriately\n")
	if len(req.Guidance) > 0 {
		b.WriteString("\nENTITY GUIDANCE (use these translations exactly):\n")
		for _, term := range req.Guidance {
			fmt.Fprintf(&b, "- %s => %s\n", term.Source, term.Target)
		}
	}
	b.WriteString("\nMANDATORY OUTPUT FORMAT:\n")
	fmt.Fprintf(&b, "1. You MUST output exactly %d lines\n", count)
	b.WriteString("2. Each line MUST start with [number] matching the input\n")
	b.WriteString("3. Never skip any input\n")
	b.WriteString("4. Format: [ID] Translation\n\n")
	b.WriteString("INPUT TEXTS TO TRANSLATE:\n")
	for _, region := range req.Regions {
		fmt.Fprintf(&b, "[%d] %s\n", region.ID, strings.TrimSpace(region.Text))
	}
	fmt.Fprintf(&b, "\nProvide exactly %d translated lines, each starting with the corresponding [ID] number.", count)
	return b.String()
}

// ParseRefineOutput extracts per-region translations from model output. The
// line protocol is tried first, then a JSON array or {"translations": [...]}.
// IDs not present in regions are ignored; the last line wins for duplicates.
func ParseRefineOutput(content string, regions []Region) []RegionResult {
	drafts := make(map[int]string, len(regions))
	for _, region := range regions {
		drafts[region.ID] = region.Draft
	}

	found := make(map[int]string)
	for _, line := range strings.Split(stripFence(content), "\n") {
		match := lineProtocol.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		id, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, ok := drafts[id]; ok {
			found[id] = strings.TrimSpace(match[2])
		}
	}
	if len(found) == 0 {
		for _, item := range decodeJSONTranslations(content) {
			if _, ok := drafts[item.ID]; ok && strings.TrimSpace(item.Translation) != "" {
				found[item.ID] = strings.TrimSpace(item.Translation)
			}
		}
	}

	out := make([]RegionResult, 0, len(found))
	for id, translation := range found {
		out = append(out, RegionResult{ID: id, Translation: translation, Original: drafts[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func decodeJSONTranslations(content string) []RegionResult {
	var wrapped struct {
		Translations []RegionResult `json:"translations"`
	}
	if err := DecodeJSON(content, &wrapped); err == nil && len(wrapped.Translations) > 0 {
		return wrapped.Translations
	}
	var list []RegionResult
	if err := DecodeJSON(content, &list); err == nil {
		return list
	}
	return nil
}

// Merge orders per-region results by ID and joins them into the refined text.
func Merge(parts ...[]RegionResult) Result {
	var all []RegionResult
	for _, part := range parts {
		all = append(all, part...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	lines := make([]string, 0, len(all))
	for _, item := range all {
		lines = append(lines, item.Translation)
	}
	return Result{RefinedText: strings.Join(lines, "\n"), PerRegion: all}
}
