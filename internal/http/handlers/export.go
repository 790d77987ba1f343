package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"promptgrid/pkg/zip"

	"github.com/go-chi/chi/v5"
)

// SheetExport bundles every cell's prompt and latest output into a zip
// download.
func (a *App) SheetExport(w http.ResponseWriter, r *http.Request) {
	sheet := chi.URLParam(r, "sheet")
	cells, err := a.Cache.GetOrLoad(r.Context(), sheet)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}

	ids := make([]string, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]zip.Entry, 0, len(ids))
	for _, id := range ids {
		cell := cells[id]
		var b strings.Builder
		fmt.Fprintf(&b, "prompt:\n%s\n", cell.Prompt)
		if cell.Output != "" {
			fmt.Fprintf(&b, "\noutput:\n%s\n", cell.Output)
		}
		entries = append(entries, zip.Entry{
			Filename: id + ".txt",
			Data:     []byte(b.String()),
		})
	}

	archive, err := zip.Archive(entries)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sheet+".zip"))
	_, _ = w.Write(archive)
}
