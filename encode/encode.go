// Package encode maps raw label values of a dataset column to dense integer
// codes and back.
//
// A LabelEncoder is fit once on the full set of labels observed in a column
// and is then reused to encode label batches during streaming. Codes are
// contiguous integers 0..n-1 assigned in lexicographic (sorted) order of the
// distinct labels, so the code assignment depends only on the label set, not
// on the order the labels were observed in.
package encode

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFitted reports an Encode or Decode call before Fit.
	ErrNotFitted = errors.New("encode: encoder is not fitted")

	// ErrAlreadyFitted reports a Fit call with a label set that conflicts
	// with the set the encoder was originally fitted on.
	ErrAlreadyFitted = errors.New("encode: encoder already fitted with a different label set")

	// ErrUnknownLabel reports an Encode call with a label that was not
	// present at fit time.
	ErrUnknownLabel = errors.New("encode: unknown label")

	// ErrUnknownCode reports a Decode call with an out-of-range code.
	ErrUnknownCode = errors.New("encode: unknown code")
)

// LabelEncoder is a reusable dictionary over the distinct labels of one
// column. The zero value is not usable; use NewLabelEncoder.
//
// A LabelEncoder is not safe for concurrent use while being fitted; once
// fitted it is read-only and may be shared.
type LabelEncoder struct {
	column  string
	classes []string
	codes   map[string]int64
	fitted  bool
}

// NewLabelEncoder creates an unfitted encoder for the named column.
func NewLabelEncoder(column string) *LabelEncoder {
	return &LabelEncoder{column: column}
}

// Column returns the column name the encoder was created for.
func (e *LabelEncoder) Column() string { return e.column }

// Fitted reports whether the encoder has been fitted.
func (e *LabelEncoder) Fitted() bool { return e.fitted }

// Fit scans values for the distinct label set and assigns codes in sorted
// label order. Fitting twice is allowed only when the second scan observes
// exactly the same label set; otherwise Fit returns ErrAlreadyFitted, since
// silently re-fitting would invalidate codes already handed out.
func (e *LabelEncoder) Fit(values []string) error {
	distinct := make(map[string]bool, len(values))
	for _, v := range values {
		distinct[v] = true
	}
	classes := make([]string, 0, len(distinct))
	for v := range distinct {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	if e.fitted {
		if len(classes) != len(e.classes) {
			return fmt.Errorf("%w: column %q fitted with %d classes, refit saw %d",
				ErrAlreadyFitted, e.column, len(e.classes), len(classes))
		}
		for i, c := range classes {
			if c != e.classes[i] {
				return fmt.Errorf("%w: column %q class %q not in original label set",
					ErrAlreadyFitted, e.column, c)
			}
		}
		return nil
	}

	e.classes = classes
	e.codes = make(map[string]int64, len(classes))
	for i, c := range classes {
		e.codes[c] = int64(i)
	}
	e.fitted = true
	return nil
}

// Classes returns the fitted label set in code order, so Classes()[i]
// decodes code i. The returned slice is a copy.
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// NumClasses returns the number of distinct labels seen at fit time.
func (e *LabelEncoder) NumClasses() int { return len(e.classes) }

// Encode maps each value to its integer code. Any value absent from the
// fitted label set fails the whole call with ErrUnknownLabel.
func (e *LabelEncoder) Encode(values []string) ([]int64, error) {
	if !e.fitted {
		return nil, fmt.Errorf("%w: column %q", ErrNotFitted, e.column)
	}
	out := make([]int64, len(values))
	for i, v := range values {
		code, ok := e.codes[v]
		if !ok {
			return nil, fmt.Errorf("%w: %q was not observed when fitting column %q",
				ErrUnknownLabel, v, e.column)
		}
		out[i] = code
	}
	return out, nil
}

// Decode maps integer codes back to their labels. Codes outside
// 0..NumClasses()-1 fail with ErrUnknownCode.
func (e *LabelEncoder) Decode(codes []int64) ([]string, error) {
	if !e.fitted {
		return nil, fmt.Errorf("%w: column %q", ErrNotFitted, e.column)
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		if c < 0 || c >= int64(len(e.classes)) {
			return nil, fmt.Errorf("%w: code %d out of range [0, %d) for column %q",
				ErrUnknownCode, c, len(e.classes), e.column)
		}
		out[i] = e.classes[c]
	}
	return out, nil
}
