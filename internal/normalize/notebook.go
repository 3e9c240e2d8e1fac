package normalize

import (
	"encoding/json"
	"strings"
)

// notebookCell is the subset of the Jupyter cell schema the corpus
// cares about. Source is either a string or a list of line strings.
type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

type notebook struct {
	Cells []notebookCell `json:"cells"`
}

// NotebookCells extracts the code and markdown cell sources from a
// Jupyter notebook, dropping raw cells, outputs, and metadata. The
// second return is false when the content is not a parseable notebook
// or yields no usable cells; callers then fall back to the raw bytes.
func NotebookCells(content []byte) (string, bool) {
	var nb notebook
	if err := json.Unmarshal(content, &nb); err != nil || len(nb.Cells) == 0 {
		return "", false
	}

	var parts []string
	for _, cell := range nb.Cells {
		if cell.CellType != "code" && cell.CellType != "markdown" {
			continue
		}
		src := cellSource(cell.Source)
		if strings.TrimSpace(src) == "" {
			continue
		}
		parts = append(parts, src)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// cellSource decodes a cell source field. Notebook line lists carry
// their own trailing newlines, so they join with no separator.
func cellSource(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	return ""
}
