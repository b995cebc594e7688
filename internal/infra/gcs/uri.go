// Package gcs keeps the key-value store as objects in a Cloud Storage bucket.
package gcs

import (
	"fmt"
	"strings"
)

// Location is a bucket plus an object name prefix.
type Location struct {
	Bucket string
	Prefix string
}

// ParseURI parses "gs://bucket/optional/prefix" or a bare bucket name.
// A non-empty prefix always ends with "/".
func ParseURI(uri string) (Location, error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == "" {
		return Location{}, fmt.Errorf("invalid GCS URI: %q", uri)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	loc := Location{Bucket: parts[0]}
	if loc.Bucket == "" {
		return Location{}, fmt.Errorf("invalid GCS URI (no bucket): %q", uri)
	}
	if len(parts) == 2 {
		loc.Prefix = strings.Trim(parts[1], "/")
		if loc.Prefix != "" {
			loc.Prefix += "/"
		}
	}
	return loc, nil
}

// String renders the location as a gs:// URI.
func (l Location) String() string {
	return "gs://" + l.Bucket + "/" + l.Prefix
}
