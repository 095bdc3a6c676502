// Package archive packages generated files as a zip download.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jxucoder/botforge/model"
)

// FileName is the download name of a project archive.
const FileName = "bot-project.zip"

// Write streams files into a zip archive on w, one entry per file at its
// relative path, in the given order.
func Write(w io.Writer, files []model.GeneratedFile) error {
	zw := zip.NewWriter(w)
	modified := time.Now()
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := io.WriteString(fw, f.Code); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

// Bytes returns the archive as a byte slice.
func Bytes(files []model.GeneratedFile) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
