package engine

import (
	"fmt"
	"strings"

	"github.com/jxucoder/botforge/model"
)

// Suspension is a build attempt paused before structure planning until the
// user supplies the values listed in Inputs. It is created when the required
// inputs check returns a non-empty list and consumed exactly once, by a
// submission or by a reset.
type Suspension struct {
	Epoch  uint64
	Inputs []model.RequiredInput

	// resume continues the attempt at structure planning.
	resume func(data map[string]string)
}

// collect validates submitted values against Inputs and returns the data to
// continue with. Values for unknown names are kept; blank values are dropped.
func (s *Suspension) collect(values map[string]string) (map[string]string, error) {
	data := make(map[string]string, len(values))
	for k, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			data[k] = v
		}
	}

	var missing []string
	for _, in := range s.Inputs {
		if in.Required && data[in.Name] == "" {
			missing = append(missing, in.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Field:   "inputs",
			Message: fmt.Sprintf("missing required values: %s", strings.Join(missing, ", ")),
		}
	}
	return data, nil
}
