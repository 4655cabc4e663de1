package scanner

import (
	"archive/zip"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// archivePage is an image member of a chapter archive.
type archivePage struct {
	Name     string
	Size     int64
	MimeType string
}

// readArchive lists the image members of a .cbz/.zip chapter.
// Members that are not images by extension or by content are skipped.
// Members that cannot be read are skipped too, and reported in the returned
// error alongside the pages that could be read.
func readArchive(archivePath string) ([]archivePage, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var errs []error
	pages := make([]archivePage, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isImageName(f.Name) || hiddenMember(f.Name) {
			continue
		}
		mime, err := sniffMember(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("read member %s: %w", f.Name, err))
			continue
		}
		if !strings.HasPrefix(mime, "image/") {
			continue
		}
		pages = append(pages, archivePage{
			Name:     f.Name,
			Size:     int64(f.UncompressedSize64), //#nosec G115 -- page sizes fit in int64
			MimeType: mime,
		})
	}
	return pages, errors.Join(errs...)
}

func sniffMember(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

func hiddenMember(name string) bool {
	for _, part := range strings.Split(path.Clean(name), "/") {
		if isHidden(part) {
			return true
		}
	}
	return false
}
