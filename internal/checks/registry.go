// Package checks validates declarative quality checks before any engine work.
//
// Each supported expectation type maps to a handler that checks its kwargs.
// Unknown types are rejected instead of being forwarded to the engine by name.
package checks

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// Handler validates the kwargs of one expectation type.
type Handler func(kwargs map[string]any) error

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Default returns a registry with the built-in expectation types.
func Default() *Registry {
	r := NewRegistry()
	r.Register("expect_column_to_exist", requireColumn)
	r.Register("expect_column_values_to_not_be_null", requireColumn)
	r.Register("expect_column_values_to_be_null", requireColumn)
	r.Register("expect_column_values_to_be_unique", requireColumn)
	r.Register("expect_column_values_to_match_regex", columnAndRegex)
	r.Register("expect_column_values_to_not_match_regex", columnAndRegex)
	r.Register("expect_column_values_to_be_in_set", columnAndValueSet)
	r.Register("expect_column_values_to_not_be_in_set", columnAndValueSet)
	r.Register("expect_column_values_to_be_between", all(requireColumn, bounds))
	r.Register("expect_column_value_lengths_to_be_between", all(requireColumn, bounds))
	r.Register("expect_column_values_to_be_of_type", all(requireColumn, requireString("type_")))
	r.Register("expect_table_row_count_to_be_between", bounds)
	r.Register("expect_table_column_count_to_equal", requireNumber("value"))
	return r
}

func (r *Registry) Register(expectationType string, h Handler) {
	r.handlers[expectationType] = h
}

func (r *Registry) Lookup(expectationType string) (Handler, bool) {
	h, ok := r.handlers[expectationType]
	return h, ok
}

// Types lists the registered expectation types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks a single check against its handler.
func (r *Registry) Validate(c models.Check) error {
	h, ok := r.Lookup(c.ExpectationType)
	if !ok {
		return fmt.Errorf("%q: %w", c.ExpectationType, apperrors.ErrUnsupportedCheck)
	}
	if err := h(c.Kwargs); err != nil {
		return fmt.Errorf("%s: %v: %w", c.ExpectationType, err, apperrors.ErrUnsupportedCheck)
	}
	return nil
}

// ValidateAll rejects an empty list and returns the first invalid check.
func (r *Registry) ValidateAll(cs []models.Check) error {
	if len(cs) == 0 {
		return apperrors.ErrNoChecks
	}
	for i, c := range cs {
		if err := r.Validate(c); err != nil {
			return fmt.Errorf("check %d: %w", i, err)
		}
	}
	return nil
}

func all(hs ...Handler) Handler {
	return func(kwargs map[string]any) error {
		for _, h := range hs {
			if err := h(kwargs); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireColumn(kwargs map[string]any) error {
	return requireString("column")(kwargs)
}

func requireString(key string) Handler {
	return func(kwargs map[string]any) error {
		v, ok := kwargs[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return fmt.Errorf("kwarg %q must be a non-empty string", key)
		}
		return nil
	}
}

func requireNumber(key string) Handler {
	return func(kwargs map[string]any) error {
		if _, ok := number(kwargs[key]); !ok {
			return fmt.Errorf("kwarg %q must be a number", key)
		}
		return nil
	}
}

// columnAndRegex does not compile the pattern. The engine evaluates it in its
// own regex dialect and rejects bad patterns when the check is attached.
func columnAndRegex(kwargs map[string]any) error {
	if err := requireColumn(kwargs); err != nil {
		return err
	}
	pattern, ok := kwargs["regex"].(string)
	if !ok || pattern == "" {
		return errors.New(`kwarg "regex" must be a non-empty string`)
	}
	return nil
}

func columnAndValueSet(kwargs map[string]any) error {
	if err := requireColumn(kwargs); err != nil {
		return err
	}
	set, ok := kwargs["value_set"].([]any)
	if !ok || len(set) == 0 {
		return errors.New(`kwarg "value_set" must be a non-empty list`)
	}
	return nil
}

// bounds requires at least one numeric min_value/max_value and min <= max.
func bounds(kwargs map[string]any) error {
	minRaw, hasMin := kwargs["min_value"]
	maxRaw, hasMax := kwargs["max_value"]
	if (!hasMin || minRaw == nil) && (!hasMax || maxRaw == nil) {
		return errors.New(`at least one of "min_value" or "max_value" is required`)
	}
	var lo, hi float64
	var okLo, okHi bool
	if hasMin && minRaw != nil {
		if lo, okLo = number(minRaw); !okLo {
			return errors.New(`kwarg "min_value" must be a number`)
		}
	}
	if hasMax && maxRaw != nil {
		if hi, okHi = number(maxRaw); !okHi {
			return errors.New(`kwarg "max_value" must be a number`)
		}
	}
	if okLo && okHi && lo > hi {
		return fmt.Errorf("min_value %v exceeds max_value %v", lo, hi)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
