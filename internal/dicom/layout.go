package dicom

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// Layout selects how generated files are arranged on disk. Neither layout
// carries identity: the indexer only trusts header identifiers.
type Layout string

const (
	// LayoutNested writes PT%06d/ST%06d/SE%06d/IM%06d, the PACS export layout.
	LayoutNested Layout = "nested"
	// LayoutFlat writes every file of every study into one directory.
	LayoutFlat Layout = "flat"
)

// AllLayouts returns the valid layouts.
func AllLayouts() []Layout {
	return []Layout{LayoutNested, LayoutFlat}
}

// ParseLayout parses a layout name. Empty means nested.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutNested:
		return LayoutNested, nil
	case LayoutFlat:
		return LayoutFlat, nil
	default:
		return "", fmt.Errorf("unknown layout %q, valid: %v", s, AllLayouts())
	}
}

func (l Layout) seriesDir(root string, patient, study, series int) string {
	if l == LayoutFlat {
		return root
	}
	return filepath.Join(root,
		fmt.Sprintf("PT%06d", patient),
		fmt.Sprintf("ST%06d", study),
		fmt.Sprintf("SE%06d", series))
}

// fileName names the file of slot within a series. Flat names are prefixed
// with a digest of the series UID to stay unique across series.
func (l Layout) fileName(seriesUID string, slot int) string {
	if l == LayoutFlat {
		return fmt.Sprintf("%s_IM%06d.dcm", uidDigest(seriesUID), slot+1)
	}
	return fmt.Sprintf("IM%06d", slot+1)
}

func (l Layout) extraName(seriesUID, name string) string {
	if l == LayoutFlat {
		return uidDigest(seriesUID) + "_" + name
	}
	return name
}

func uidDigest(uid string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return fmt.Sprintf("%08x", h.Sum32())
}
