package harness

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/firevox/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// steadyTolerance is the largest change, in K, a steady trend may show.
const steadyTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Generations closed before the failure
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d->%d] %s voxels=%d planes=%d flux=%d\n",
				ev.Closed, ev.Generation, ev.Outcome, ev.ScheduledVoxels, ev.ScheduledPlanes, ev.FluxConnections)
		}
	}
	return buf.String()
}

// describeBounds renders the accepted range of a numeric assertion.
func describeBounds(a Assertion) string {
	var parts []string
	if a.Value != nil {
		parts = append(parts, fmt.Sprintf("%g ± %g", *a.Value, a.Tolerance))
	}
	if a.Min != nil {
		parts = append(parts, fmt.Sprintf(">= %g", *a.Min))
	}
	if a.Max != nil {
		parts = append(parts, fmt.Sprintf("<= %g", *a.Max))
	}
	return strings.Join(parts, " and ")
}

// withinBounds reports whether v satisfies every bound set on a.
func withinBounds(v float64, a Assertion) bool {
	if a.Value != nil && math.Abs(v-*a.Value) > a.Tolerance {
		return false
	}
	if a.Min != nil && v < *a.Min {
		return false
	}
	if a.Max != nil && v > *a.Max {
		return false
	}
	return true
}

// assertGeneration checks the generation the run ended at.
func assertGeneration(result *Result, a Assertion) error {
	if float64(result.Generation) == *a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertGeneration,
		Expected: fmt.Sprintf("final generation %g", *a.Value),
		Actual:   fmt.Sprintf("final generation %d", result.Generation),
		Trace:    result.Trace,
	}
}

// assertTemperature checks a voxel's temperature at the final generation.
func assertTemperature(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	k := a.Key.Key()
	state, err := st.Voxel(ctx, k)
	if err != nil {
		return &AssertionError{
			Type:     AssertTemperature,
			Expected: fmt.Sprintf("voxel %s", k),
			Actual:   err.Error(),
		}
	}
	slot, ok := state.At(result.Generation)
	if !ok {
		return &AssertionError{
			Type:     AssertTemperature,
			Expected: fmt.Sprintf("voxel %s materialized at generation %d", k, result.Generation),
			Actual:   fmt.Sprintf("slot holds generation %d", slot.Generation),
			Trace:    result.Trace,
		}
	}
	if !withinBounds(slot.Temperature, a) {
		return &AssertionError{
			Type:     AssertTemperature,
			Expected: fmt.Sprintf("voxel %s temperature %s", k, describeBounds(a)),
			Actual:   fmt.Sprintf("%g", slot.Temperature),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertReading checks one thermometer sample.
func assertReading(result *Result, a Assertion) error {
	k := a.Key.Key()
	for _, r := range result.Readings {
		if r.Key != k || r.Generation != *a.Generation {
			continue
		}
		if withinBounds(r.Temperature, a) {
			return nil
		}
		return &AssertionError{
			Type:     AssertReading,
			Expected: fmt.Sprintf("reading of %s at generation %d %s", k, *a.Generation, describeBounds(a)),
			Actual:   fmt.Sprintf("%g", r.Temperature),
			Trace:    result.Trace,
		}
	}
	return &AssertionError{
		Type:     AssertReading,
		Expected: fmt.Sprintf("reading of %s at generation %d", k, *a.Generation),
		Actual:   "no such reading",
		Trace:    result.Trace,
	}
}

// assertTrend checks that consecutive readings of a thermometer move in
// one direction.
func assertTrend(result *Result, a Assertion) error {
	k := a.Key.Key()
	var series []store.Reading
	for _, r := range result.Readings {
		if r.Key == k {
			series = append(series, r)
		}
	}
	if len(series) < 2 {
		return &AssertionError{
			Type:     AssertTrend,
			Expected: fmt.Sprintf("at least two readings of %s", k),
			Actual:   fmt.Sprintf("%d readings", len(series)),
			Trace:    result.Trace,
		}
	}

	for i := 1; i < len(series); i++ {
		prev, cur := series[i-1], series[i]
		delta := cur.Temperature - prev.Temperature
		var ok bool
		switch a.Direction {
		case TrendRising:
			ok = delta > 0
		case TrendFalling:
			ok = delta < 0
		case TrendSteady:
			ok = math.Abs(delta) <= steadyTolerance
		}
		if !ok {
			return &AssertionError{
				Type:     AssertTrend,
				Expected: fmt.Sprintf("readings of %s %s", k, a.Direction),
				Actual: fmt.Sprintf("generation %d: %g, generation %d: %g",
					prev.Generation, prev.Temperature, cur.Generation, cur.Temperature),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

// assertFinalState checks if the final state table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matching rows make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from state tables.
// SQLite returns int64 for integers and float64 for reals; YAML decodes
// integers as int.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		return numericEqual(float64(exp), actual)
	case int64:
		return numericEqual(float64(exp), actual)
	case float64:
		return numericEqual(exp, actual)
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func numericEqual(expected float64, actual any) bool {
	switch act := actual.(type) {
	case int64:
		return expected == float64(act)
	case int:
		return expected == float64(act)
	case float64:
		return expected == act
	}
	return false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for temperature and
// final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertGeneration:
			err = assertGeneration(result, assertion)
		case AssertReading:
			err = assertReading(result, assertion)
		case AssertTrend:
			err = assertTrend(result, assertion)
		case AssertTemperature, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertTemperature {
				err = assertTemperature(actx.Ctx, actx.Store, result, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
