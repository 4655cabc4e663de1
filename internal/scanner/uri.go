package scanner

import (
	"fmt"
	"net/url"
	"path/filepath"
)

// URIFromPath returns the file:// URI of an absolute path.
func URIFromPath(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Clean(path))}
	return u.String()
}

// PathFromURI returns the local path of a file:// URI.
// A bare absolute path is accepted as-is.
func PathFromURI(uri string) (string, error) {
	if filepath.IsAbs(uri) {
		return filepath.Clean(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file uri %q not supported", uri)
	}
	return filepath.Clean(filepath.FromSlash(u.Path)), nil
}

// entryURI addresses a member of an archive.
func entryURI(archiveURI, name string) string {
	return archiveURI + "#" + url.PathEscape(name)
}
