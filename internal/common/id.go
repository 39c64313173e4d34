package common

import (
	"github.com/google/uuid"
)

// NewScanID generates a unique scan job ID with the "scan_" prefix.
func NewScanID() string {
	return "scan_" + uuid.New().String()
}

// NewImageID generates a unique discovered-image ID with the "img_" prefix.
func NewImageID() string {
	return "img_" + uuid.New().String()
}

// NewBundleID generates a unique converted-image-bundle ID with the "bundle_" prefix.
func NewBundleID() string {
	return "bundle_" + uuid.New().String()
}
