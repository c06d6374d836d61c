package dicom

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// readHeader parses a DICOM file element by element up to the pixel data,
// tolerating errors in individual elements (vendor private tags with bad
// lengths are common). It returns the elements collected so far, including
// the file meta group.
func readHeader(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			// EOF or a broken element: keep what was read.
			break
		}
		elements = append(elements, elem)
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	meta := p.GetMetadata()
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

// stringValues returns the string values of t, or nil when absent.
func stringValues(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return nil
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.TrimSpace(strings.TrimRight(s, "\x00"))
		}
		return out
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	default:
		s := strings.Trim(elem.Value.String(), " []")
		if s == "" {
			return nil
		}
		return []string{s}
	}
}

// stringValue returns the first value of t joined with "\" for multi-valued
// elements, or "" when absent.
func stringValue(ds dicom.Dataset, t tag.Tag) string {
	return strings.Join(stringValues(ds, t), `\`)
}

// floatValues parses the values of a DS/FD/FL element.
func floatValues(ds dicom.Dataset, t tag.Tag) ([]float64, error) {
	values := stringValues(ds, t)
	if len(values) == 0 {
		return nil, fmt.Errorf("missing %s", tagName(t))
	}
	out := make([]float64, 0, len(values))
	for _, s := range values {
		// Some writers pack several DS values into one string.
		for _, part := range strings.Split(s, `\`) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tagName(t), err)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// floatValue returns the first value of t, or def when absent or unparsable.
func floatValue(ds dicom.Dataset, t tag.Tag, def float64) float64 {
	values, err := floatValues(ds, t)
	if err != nil || len(values) == 0 {
		return def
	}
	return values[0]
}

// intValue returns the first value of a US/IS element.
func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	values := stringValues(ds, t)
	if len(values) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
		if ferr != nil {
			return 0, false
		}
		n = int(f)
	}
	return n, true
}

func tagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Name
	}
	return t.String()
}
