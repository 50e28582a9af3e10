package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/model"
)

var intFields = map[string]bool{
	model.FieldAge:           true,
	model.FieldCurrentSalary: true,
	model.FieldDesiredSalary: true,
}

// candidateFromPayload converts a decoded JSON object into a candidate,
// coercing numeric, boolean and date columns. Unknown keys are dropped and
// empty values are omitted.
func candidateFromPayload(payload map[string]any) (model.Candidate, error) {
	c := make(model.Candidate, len(payload))
	for k, v := range payload {
		if !model.IsCustomerColumn(k) || v == nil {
			continue
		}
		switch {
		case intFields[k]:
			n, ok := toInt(v)
			if !ok {
				return nil, eris.Errorf("%s must be an integer", k)
			}
			c[k] = n
		case k == model.FieldDriverLicense:
			b, ok := toBool(v)
			if !ok {
				return nil, eris.Errorf("%s must be a boolean", k)
			}
			c[k] = b
		case k == model.FieldInflowDate:
			s, _ := v.(string)
			t, ok := ingest.ParseDate(s)
			if !ok {
				return nil, eris.Errorf("%s must be a date", k)
			}
			c[k] = t.UTC()
		default:
			s := strings.TrimSpace(fmt.Sprint(v))
			if s != "" {
				c[k] = s
			}
		}
	}
	return c, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.Atoi(x.String())
		return n, err == nil
	case float64:
		return int(x), x == float64(int(x))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	return false, false
}
