package openoa

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Series is an engine output that is either a single number or one value
// per Monte Carlo simulation. A scalar decodes as a one element series and
// null decodes as an empty series.
type Series []float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Series) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '[' {
		var values []float64
		if err := json.Unmarshal(b, &values); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		*s = values
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	*s = Series{v}
	return nil
}
