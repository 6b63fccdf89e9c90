package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// RunKeyPrefix marks the key holding one validation run in a checkpoint document.
const RunKeyPrefix = "ValidationResultIdentifier::"

type Statistics struct {
	EvaluatedExpectations    int     `json:"evaluated_expectations"`
	SuccessfulExpectations   int     `json:"successful_expectations"`
	UnsuccessfulExpectations int     `json:"unsuccessful_expectations"`
	SuccessPercent           float64 `json:"success_percent"`
}

type ExpectationConfig struct {
	ExpectationType string         `json:"expectation_type"`
	Kwargs          map[string]any `json:"kwargs"`
}

type ExceptionInfo struct {
	RaisedException    bool   `json:"raised_exception"`
	ExceptionMessage   string `json:"exception_message"`
	ExceptionTraceback string `json:"exception_traceback"`
}

type Outcome struct {
	Success           bool              `json:"success"`
	ExpectationConfig ExpectationConfig `json:"expectation_config"`
	Result            json.RawMessage   `json:"result"`
	ExceptionInfo     *ExceptionInfo    `json:"exception_info"`
}

// ValidationResult is the engine's report for one validation run.
type ValidationResult struct {
	RunKey     string         `json:"-"`
	Success    bool           `json:"success"`
	Statistics Statistics     `json:"statistics"`
	Results    []Outcome      `json:"results"`
	Meta       map[string]any `json:"meta"`
	Raw        []byte         `json:"-"`
}

// Extract locates the validation run in a checkpoint document. Run keys are looked
// up at the top level first and then under run_results. A missing run key or a run
// with no results is an extraction error.
func Extract(doc []byte) (*ValidationResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, fmt.Errorf("decode checkpoint document: %v: %w", err, apperrors.ErrResultExtraction)
	}

	key, payload, ok := findRun(top)
	if !ok {
		if nested, exists := top["run_results"]; exists {
			var runs map[string]json.RawMessage
			if err := json.Unmarshal(nested, &runs); err == nil {
				key, payload, ok = findRun(runs)
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("no %q key in checkpoint document: %w", RunKeyPrefix, apperrors.ErrResultExtraction)
	}

	var wrapper struct {
		ValidationResult json.RawMessage `json:"validation_result"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.ValidationResult) > 0 && string(wrapper.ValidationResult) != "null" {
		payload = wrapper.ValidationResult
	}

	var vr ValidationResult
	if err := json.Unmarshal(payload, &vr); err != nil {
		return nil, fmt.Errorf("decode validation result %s: %v: %w", key, err, apperrors.ErrResultExtraction)
	}
	if len(vr.Results) == 0 {
		return nil, fmt.Errorf("validation run %s has no results: %w", key, apperrors.ErrResultExtraction)
	}
	vr.RunKey = key
	vr.Raw = doc
	return &vr, nil
}

func findRun(m map[string]json.RawMessage) (string, json.RawMessage, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, RunKeyPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	sort.Strings(keys)
	return keys[0], m[keys[0]], true
}

// BatchID is the batch_id kwarg of the first result, or the run id when absent.
func (vr *ValidationResult) BatchID() string {
	if len(vr.Results) > 0 {
		if id, ok := vr.Results[0].ExpectationConfig.Kwargs["batch_id"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := vr.Meta["active_batch_definition"].(map[string]any); ok {
		if name, ok := id["batch_id"].(string); ok && name != "" {
			return name
		}
	}
	return strings.TrimPrefix(vr.RunKey, RunKeyPrefix)
}

// Select keeps one outcome per check, matched on expectation type and the check's
// own kwargs, in the order the engine reported them. Statistics are recomputed over
// the kept outcomes. A check with no matching outcome is an extraction error.
func (vr *ValidationResult) Select(checks []models.Check) (*ValidationResult, error) {
	used := make([]bool, len(vr.Results))
	for i, c := range checks {
		found := false
		for j, o := range vr.Results {
			if !used[j] && matches(o.ExpectationConfig, c) {
				used[j], found = true, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no result for check %d (%s): %w", i, c.ExpectationType, apperrors.ErrResultExtraction)
		}
	}

	out := *vr
	out.Results = make([]Outcome, 0, len(checks))
	out.Statistics = Statistics{}
	for j, o := range vr.Results {
		if !used[j] {
			continue
		}
		out.Results = append(out.Results, o)
		if o.Success {
			out.Statistics.SuccessfulExpectations++
		} else {
			out.Statistics.UnsuccessfulExpectations++
		}
	}
	out.Statistics.EvaluatedExpectations = len(out.Results)
	if len(out.Results) > 0 {
		out.Statistics.SuccessPercent = 100 * float64(out.Statistics.SuccessfulExpectations) / float64(len(out.Results))
	}
	out.Success = out.Statistics.UnsuccessfulExpectations == 0
	return &out, nil
}

// matches compares through JSON so an int kwarg equals the float64 the engine echoes.
func matches(cfg ExpectationConfig, c models.Check) bool {
	if cfg.ExpectationType != c.ExpectationType {
		return false
	}
	for k, want := range c.Kwargs {
		got, ok := cfg.Kwargs[k]
		if !ok {
			return false
		}
		a, errA := json.Marshal(want)
		b, errB := json.Marshal(got)
		if errA != nil || errB != nil || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}
