// Package id generates identifiers for tasks and library entities.
//
// Tasks get random prefixed NanoIDs ("scan-V1StGXR8_Z5jdHi6B-myT").
// Roots, comics, chapters and pages get stable ids derived from their URI,
// so rescanning the same tree always yields the same ids.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used for generated and derived ids.
const (
	PrefixScanTask   = "scan"
	PrefixScrapeTask = "scrape"
	PrefixRoot       = "root"
	PrefixComic      = "comic"
	PrefixChapter    = "chap"
	PrefixPage       = "page"
)

// namespace scopes URI-derived ids to this application.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("shelfsync://library"))

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "scan-V1StGXR8_Z5jdHi6B-myT").
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// FromURI returns the stable id for an entity located at uri.
// The same (prefix, uri) pair always hashes to the same id.
func FromURI(prefix, uri string) string {
	return prefix + "-" + uuid.NewSHA1(namespace, []byte(uri)).String()
}

// Root returns the stable id for a library root URI.
func Root(uri string) string { return FromURI(PrefixRoot, uri) }

// Comic returns the stable id for a comic directory URI.
func Comic(uri string) string { return FromURI(PrefixComic, uri) }

// Chapter returns the stable id for a chapter URI.
func Chapter(uri string) string { return FromURI(PrefixChapter, uri) }

// Page returns the stable id for a page URI.
func Page(uri string) string { return FromURI(PrefixPage, uri) }
