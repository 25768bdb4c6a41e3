package image

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Class is the device class an image extension hints at.
type Class int

const (
	ClassUnknown Class = iota
	ClassHardDisk
	ClassMO
	ClassCDROM
)

// extensionHints maps a lower-cased file extension to the device
// class spec.md §6 says it implies.
var extensionHints = map[string]Class{
	".hds": ClassHardDisk,
	".hdf": ClassHardDisk,
	".hdi": ClassHardDisk,
	".hdn": ClassHardDisk,
	".nhd": ClassHardDisk,
	".hda": ClassHardDisk,
	".mos": ClassMO,
	".iso": ClassCDROM,
}

// ClassifyExtension returns the Class implied by path's extension, or
// ClassUnknown if the extension is not recognized.
func ClassifyExtension(path string) Class {
	ext := strings.ToLower(filepath.Ext(path))
	return extensionHints[ext]
}

// Properties is the optional sidecar file (path + ".properties") that
// overrides a LogicalUnit's vendor/product/revision strings and block
// size, per spec.md §6. Encoded as plain JSON: the format is a handful
// of scalar fields, far below the scale where a pack-sourced JSON
// library would earn its keep over encoding/json (see DESIGN.md).
type Properties struct {
	Vendor    string `json:"vendor,omitempty"`
	Product   string `json:"product,omitempty"`
	Revision  string `json:"revision,omitempty"`
	BlockSize int    `json:"block_size,omitempty"`
}

// SidecarPath returns the conventional ".properties" path for an image
// at imagePath.
func SidecarPath(imagePath string) string {
	return imagePath + ".properties"
}

// LoadProperties reads and parses the sidecar for imagePath, if it
// exists. A missing sidecar is not an error: it returns a zero
// Properties.
func LoadProperties(imagePath string) (Properties, error) {
	data, err := os.ReadFile(SidecarPath(imagePath))
	if os.IsNotExist(err) {
		return Properties{}, nil
	}
	if err != nil {
		return Properties{}, err
	}
	var p Properties
	if err := json.Unmarshal(data, &p); err != nil {
		return Properties{}, err
	}
	return p, nil
}
