package model

import (
	"path/filepath"
	"strings"
)

// Image represents a single raster file inside a stage directory.
type Image struct {
	Dir      string `json:"dir"`      // stage directory holding the file
	Filename string `json:"filename"` // unique within Dir
}

// Path returns the full path to the image file.
func (i Image) Path() string {
	return filepath.Join(i.Dir, i.Filename)
}

// Stem returns the filename without its extension.
func (i Image) Stem() string {
	return strings.TrimSuffix(i.Filename, filepath.Ext(i.Filename))
}

// Ext returns the lowercased extension including the leading dot.
func (i Image) Ext() string {
	return strings.ToLower(filepath.Ext(i.Filename))
}
