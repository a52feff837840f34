// Package storage holds binary artifacts: cached paper PDFs and uploaded
// syllabus files.
package storage

import (
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
}

func PaperPDFKey(paperID string) string { return "papers/" + paperID + ".pdf" }

// SyllabusKey names an upload uniquely while keeping its extension.
func SyllabusKey(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return "syllabus/" + uuid.NewString() + "-" + base
}
