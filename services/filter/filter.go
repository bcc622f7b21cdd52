// Package filter implements the closed MongoDB-style filter DSL used to
// constrain retrieval. A filter tree compiles to a SQL predicate over the
// document table (aliased d) and can also be evaluated in memory for
// post-filtering. Evaluation fails closed: a type-mismatched comparison is
// false for that document, never an error.
package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/raglab-search/models"
)

// Compiled is a SQL predicate with gorm-style ? placeholders.
type Compiled struct {
	SQL  string
	Args []any
}

// Doc is the in-memory view of a document used by Match.
type Doc struct {
	UploadedBy string
	Filename   string
	FileType   string
	Keywords   []string
	TokenCount int
	ChunkCount int
	UploadedAt time.Time
	Metadata   map[string]any
}

type columnKind int

const (
	colText columnKind = iota
	colTextArray
	colInt
	colTime
)

type column struct {
	sql  string
	kind columnKind
}

// columnFields are first-class document attributes filtered directly; every
// other field name is looked up in the user metadata JSONB.
var columnFields = map[string]column{
	"uploaded_by": {"d.uploaded_by", colText},
	"filename":    {"d.filename", colText},
	"file_type":   {"d.file_type", colText},
	"keywords":    {"d.keywords", colTextArray},
	"token_count": {"d.token_count", colInt},
	"chunk_count": {"d.chunk_count", colInt},
	"created_at":  {"d.uploaded_at", colTime},
	"uploaded_at": {"d.uploaded_at", colTime},
}

var metadataKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

var comparisonSQL = map[string]string{
	"$eq":  "=",
	"$ne":  "<>",
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

func invalidFilter(format string, args ...any) error {
	return models.NewServiceError(models.ErrKindInvalidFilter, fmt.Sprintf(format, args...))
}

// Compile translates a filter tree into a SQL predicate. A nil or empty
// filter compiles to TRUE. Unknown operators are an InvalidFilter error.
func Compile(filters map[string]any) (*Compiled, error) {
	if len(filters) == 0 {
		return &Compiled{SQL: "TRUE"}, nil
	}
	sql, args, err := compileNode(filters)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: sql, Args: args}, nil
}

// compileNode compiles a mapping; multiple sibling keys are an implicit $and.
func compileNode(node map[string]any) (string, []any, error) {
	var conds []string
	var args []any

	for key, value := range node {
		var (
			sql string
			sub []any
			err error
		)
		switch key {
		case "$and", "$or", "$nor":
			sql, sub, err = compileLogical(key, value)
		case "$not":
			inner, ok := value.(map[string]any)
			if !ok {
				return "", nil, invalidFilter("$not requires an object operand")
			}
			var innerSQL string
			innerSQL, sub, err = compileNode(inner)
			sql = fmt.Sprintf("NOT (%s)", innerSQL)
		default:
			if strings.HasPrefix(key, "$") {
				return "", nil, invalidFilter("unknown operator '%s'", key)
			}
			sql, sub, err = compileField(key, value)
		}
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sql)
		args = append(args, sub...)
	}

	return "(" + strings.Join(conds, " AND ") + ")", args, nil
}

func compileLogical(op string, value any) (string, []any, error) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return "", nil, invalidFilter("%s requires a non-empty array", op)
	}

	var conds []string
	var args []any
	for _, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			return "", nil, invalidFilter("%s operands must be objects", op)
		}
		sql, subArgs, err := compileNode(sub)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sql)
		args = append(args, subArgs...)
	}

	switch op {
	case "$and":
		return "(" + strings.Join(conds, " AND ") + ")", args, nil
	case "$or":
		return "(" + strings.Join(conds, " OR ") + ")", args, nil
	default: // $nor
		return "NOT (" + strings.Join(conds, " OR ") + ")", args, nil
	}
}

// compileField handles {field: scalar} (implicit $eq), {field: {$op: ...}}
// and a field-level {$not: {...}}.
func compileField(field string, value any) (string, []any, error) {
	ops, isOps := asOperatorMap(value)
	if !isOps {
		return compileFieldOp(field, "$eq", value)
	}

	var conds []string
	var args []any
	for op, operand := range ops {
		if op == "$not" {
			inner, ok := operand.(map[string]any)
			if !ok {
				return "", nil, invalidFilter("$not requires an object operand")
			}
			sql, subArgs, err := compileField(field, inner)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, fmt.Sprintf("NOT (%s)", sql))
			args = append(args, subArgs...)
			continue
		}
		sql, subArgs, err := compileFieldOp(field, op, operand)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sql)
		args = append(args, subArgs...)
	}

	return "(" + strings.Join(conds, " AND ") + ")", args, nil
}

// asOperatorMap reports whether the value is an operator mapping (all keys
// start with $). A plain object value is an implicit $eq operand.
func asOperatorMap(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func compileFieldOp(field, op string, operand any) (string, []any, error) {
	if !knownOperator(op) {
		return "", nil, invalidFilter("unknown operator '%s'", op)
	}
	if col, ok := columnFields[field]; ok {
		return compileColumnOp(col, op, operand)
	}
	if !metadataKeyPattern.MatchString(field) {
		return "", nil, invalidFilter("invalid field name '%s'", field)
	}
	return compileMetadataOp(field, op, operand)
}

func knownOperator(op string) bool {
	if _, ok := comparisonSQL[op]; ok {
		return true
	}
	switch op {
	case "$in", "$nin", "$all", "$exists":
		return true
	}
	return false
}

// compileColumnOp builds a predicate against a first-class column. Operands
// whose type cannot apply to the column fail closed (FALSE).
func compileColumnOp(col column, op string, operand any) (string, []any, error) {
	switch col.kind {
	case colText:
		return compileTextColumnOp(col.sql, op, operand)
	case colTextArray:
		return compileArrayColumnOp(col.sql, op, operand)
	case colInt:
		return compileNumericColumnOp(col.sql, op, operand)
	default:
		return compileTimeColumnOp(col.sql, op, operand)
	}
}

func compileTextColumnOp(colSQL, op string, operand any) (string, []any, error) {
	switch op {
	case "$exists":
		return existsLiteral(operand, true)
	case "$in", "$nin":
		values, ok := stringSlice(operand)
		if !ok {
			return failClosed(op)
		}
		if len(values) == 0 {
			return failClosed(op)
		}
		if op == "$in" {
			return colSQL + " IN ?", []any{values}, nil
		}
		return colSQL + " NOT IN ?", []any{values}, nil
	case "$all":
		// A scalar column cannot contain multiple values.
		return "FALSE", nil, nil
	default:
		s, ok := operand.(string)
		if !ok {
			return "FALSE", nil, nil
		}
		return fmt.Sprintf("%s %s ?", colSQL, comparisonSQL[op]), []any{s}, nil
	}
}

func compileArrayColumnOp(colSQL, op string, operand any) (string, []any, error) {
	switch op {
	case "$exists":
		return existsLiteral(operand, true)
	case "$eq":
		s, ok := operand.(string)
		if !ok {
			return "FALSE", nil, nil
		}
		return "? = ANY(" + colSQL + ")", []any{s}, nil
	case "$ne":
		s, ok := operand.(string)
		if !ok {
			return "FALSE", nil, nil
		}
		return "NOT (? = ANY(" + colSQL + "))", []any{s}, nil
	case "$in":
		values, ok := stringSlice(operand)
		if !ok || len(values) == 0 {
			return "FALSE", nil, nil
		}
		return colSQL + " && ?", []any{pq.Array(values)}, nil
	case "$nin":
		values, ok := stringSlice(operand)
		if !ok || len(values) == 0 {
			return "FALSE", nil, nil
		}
		return "NOT (" + colSQL + " && ?)", []any{pq.Array(values)}, nil
	case "$all":
		values, ok := stringSlice(operand)
		if !ok || len(values) == 0 {
			return "FALSE", nil, nil
		}
		return colSQL + " @> ?", []any{pq.Array(values)}, nil
	default:
		return "FALSE", nil, nil
	}
}

func compileNumericColumnOp(colSQL, op string, operand any) (string, []any, error) {
	switch op {
	case "$exists":
		return existsLiteral(operand, true)
	case "$in", "$nin":
		values, ok := numberSlice(operand)
		if !ok || len(values) == 0 {
			return failClosed(op)
		}
		if op == "$in" {
			return colSQL + " IN ?", []any{values}, nil
		}
		return colSQL + " NOT IN ?", []any{values}, nil
	case "$all":
		return "FALSE", nil, nil
	default:
		n, ok := toFloat(operand)
		if !ok {
			return "FALSE", nil, nil
		}
		return fmt.Sprintf("%s %s ?", colSQL, comparisonSQL[op]), []any{n}, nil
	}
}

func compileTimeColumnOp(colSQL, op string, operand any) (string, []any, error) {
	switch op {
	case "$exists":
		return existsLiteral(operand, true)
	case "$in", "$nin", "$all":
		return "FALSE", nil, nil
	default:
		ts, ok := toTime(operand)
		if !ok {
			return "FALSE", nil, nil
		}
		return fmt.Sprintf("%s %s ?", colSQL, comparisonSQL[op]), []any{ts}, nil
	}
}

// compileMetadataOp builds a predicate against the metadata JSONB. jsonb_typeof
// guards make type-mismatched comparisons evaluate to FALSE rather than raise.
func compileMetadataOp(key, op string, operand any) (string, []any, error) {
	textExpr := fmt.Sprintf("d.metadata->>'%s'", key)
	jsonExpr := fmt.Sprintf("d.metadata->'%s'", key)

	switch op {
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return "FALSE", nil, nil
		}
		cond := fmt.Sprintf("jsonb_exists(d.metadata, '%s')", key)
		if !want {
			cond = "NOT " + cond
		}
		return cond, nil, nil

	case "$eq", "$ne":
		sql, args, ok := metadataEquality(textExpr, jsonExpr, operand)
		if !ok {
			return "FALSE", nil, nil
		}
		if op == "$ne" {
			return "NOT (" + sql + ")", args, nil
		}
		return sql, args, nil

	case "$gt", "$gte", "$lt", "$lte":
		if n, ok := toFloat(operand); ok {
			sql := fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND (%s)::numeric %s ?)",
				jsonExpr, textExpr, comparisonSQL[op])
			return sql, []any{n}, nil
		}
		if s, ok := operand.(string); ok {
			// ISO-8601 strings compare correctly as text.
			sql := fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND %s %s ?)",
				jsonExpr, textExpr, comparisonSQL[op])
			return sql, []any{s}, nil
		}
		return "FALSE", nil, nil

	case "$in", "$nin":
		items, ok := operand.([]any)
		if !ok || len(items) == 0 {
			return failClosed(op)
		}
		var conds []string
		var args []any
		for _, item := range items {
			sql, subArgs, ok := metadataEquality(textExpr, jsonExpr, item)
			if !ok {
				continue
			}
			conds = append(conds, sql)
			args = append(args, subArgs...)
		}
		if len(conds) == 0 {
			return failClosed(op)
		}
		// $in also matches array-valued fields containing the literal.
		joined := "(" + strings.Join(conds, " OR ") + ")"
		if op == "$nin" {
			return "NOT " + joined, args, nil
		}
		return joined, args, nil

	case "$all":
		items, ok := operand.([]any)
		if !ok || len(items) == 0 {
			return "FALSE", nil, nil
		}
		encoded, err := models.ConvertToJSON(items)
		if err != nil {
			return "FALSE", nil, nil
		}
		sql := fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> ?::jsonb)", jsonExpr, jsonExpr)
		return sql, []any{encoded}, nil

	default:
		return "", nil, invalidFilter("unknown operator '%s'", op)
	}
}

// metadataEquality matches scalars against both scalar-valued and
// array-valued metadata fields (MongoDB equality semantics).
func metadataEquality(textExpr, jsonExpr string, operand any) (string, []any, bool) {
	switch v := operand.(type) {
	case string:
		encoded, _ := models.ConvertToJSON([]any{v})
		sql := fmt.Sprintf("(%s = ? OR (jsonb_typeof(%s) = 'array' AND %s @> ?::jsonb))",
			textExpr, jsonExpr, jsonExpr)
		return sql, []any{v, encoded}, true
	case bool:
		sql := fmt.Sprintf("(jsonb_typeof(%s) = 'boolean' AND (%s)::boolean = ?)", jsonExpr, textExpr)
		return sql, []any{v}, true
	default:
		if n, ok := toFloat(operand); ok {
			encoded, _ := models.ConvertToJSON([]any{n})
			sql := fmt.Sprintf("((jsonb_typeof(%s) = 'number' AND (%s)::numeric = ?) OR (jsonb_typeof(%s) = 'array' AND %s @> ?::jsonb))",
				jsonExpr, textExpr, jsonExpr, jsonExpr)
			return sql, []any{n, encoded}, true
		}
		return "", nil, false
	}
}

func existsLiteral(operand any, columnPresent bool) (string, []any, error) {
	want, ok := operand.(bool)
	if !ok {
		return "FALSE", nil, nil
	}
	if want == columnPresent {
		return "TRUE", nil, nil
	}
	return "FALSE", nil, nil
}

// failClosed returns the identity predicate that excludes everything for $in
// and excludes nothing for $nin (matching MongoDB on empty/invalid operands).
func failClosed(op string) (string, []any, error) {
	if op == "$nin" {
		return "TRUE", nil, nil
	}
	return "FALSE", nil, nil
}

func stringSlice(operand any) ([]string, bool) {
	items, ok := operand.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func numberSlice(operand any) ([]float64, bool) {
	items, ok := operand.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		n, ok := toFloat(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
