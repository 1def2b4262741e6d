package splitting

import "docflow/internal/stage"

// SetSplitterForTests overrides the PDF splitter during tests.
func SetSplitterForTests(fn func(source, outDir string) (stage.SplitPayload, error)) func() {
	previous := splitPDF
	splitPDF = fn
	return func() {
		splitPDF = previous
	}
}
