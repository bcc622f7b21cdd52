package filter

import (
	"strings"
	"time"
)

// Match evaluates a filter tree against a document in memory. Semantics
// mirror Compile; malformed nodes and type mismatches fail closed.
func Match(filters map[string]any, doc Doc) bool {
	if len(filters) == 0 {
		return true
	}
	return matchNode(filters, doc)
}

func matchNode(node map[string]any, doc Doc) bool {
	for key, value := range node {
		switch key {
		case "$and":
			items, ok := value.([]any)
			if !ok || len(items) == 0 {
				return false
			}
			for _, item := range items {
				sub, ok := item.(map[string]any)
				if !ok || !matchNode(sub, doc) {
					return false
				}
			}
		case "$or":
			items, ok := value.([]any)
			if !ok || len(items) == 0 {
				return false
			}
			matched := false
			for _, item := range items {
				sub, ok := item.(map[string]any)
				if ok && matchNode(sub, doc) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			items, ok := value.([]any)
			if !ok || len(items) == 0 {
				return false
			}
			for _, item := range items {
				sub, ok := item.(map[string]any)
				if ok && matchNode(sub, doc) {
					return false
				}
			}
		case "$not":
			sub, ok := value.(map[string]any)
			if !ok || matchNode(sub, doc) {
				return false
			}
		default:
			if strings.HasPrefix(key, "$") {
				return false
			}
			if !matchField(key, value, doc) {
				return false
			}
		}
	}
	return true
}

func matchField(field string, value any, doc Doc) bool {
	ops, isOps := asOperatorMap(value)
	if !isOps {
		return matchFieldOp(field, "$eq", value, doc)
	}
	for op, operand := range ops {
		if op == "$not" {
			inner, ok := operand.(map[string]any)
			if !ok || matchField(field, inner, doc) {
				return false
			}
			continue
		}
		if !matchFieldOp(field, op, operand, doc) {
			return false
		}
	}
	return true
}

func matchFieldOp(field, op string, operand any, doc Doc) bool {
	if !knownOperator(op) {
		return false
	}

	switch field {
	case "uploaded_by":
		return matchText(doc.UploadedBy, op, operand)
	case "filename":
		return matchText(doc.Filename, op, operand)
	case "file_type":
		return matchText(doc.FileType, op, operand)
	case "keywords":
		return matchStringArray(doc.Keywords, op, operand)
	case "token_count":
		return matchNumber(float64(doc.TokenCount), op, operand)
	case "chunk_count":
		return matchNumber(float64(doc.ChunkCount), op, operand)
	case "created_at", "uploaded_at":
		return matchTimeValue(doc.UploadedAt, op, operand)
	default:
		return matchMetadata(field, op, operand, doc.Metadata)
	}
}

func matchText(value, op string, operand any) bool {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		return ok && want
	case "$in":
		items, ok := stringSlice(operand)
		if !ok {
			return false
		}
		return containsString(items, value)
	case "$nin":
		items, ok := stringSlice(operand)
		if !ok {
			return true
		}
		return !containsString(items, value)
	case "$all":
		return false
	default:
		s, ok := operand.(string)
		if !ok {
			return false
		}
		return compareOrdered(strings.Compare(value, s), op)
	}
}

func matchStringArray(values []string, op string, operand any) bool {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		return ok && want
	case "$eq":
		s, ok := operand.(string)
		return ok && containsString(values, s)
	case "$ne":
		s, ok := operand.(string)
		return ok && !containsString(values, s)
	case "$in":
		items, ok := stringSlice(operand)
		if !ok {
			return false
		}
		for _, item := range items {
			if containsString(values, item) {
				return true
			}
		}
		return false
	case "$nin":
		items, ok := stringSlice(operand)
		if !ok {
			return true
		}
		for _, item := range items {
			if containsString(values, item) {
				return false
			}
		}
		return true
	case "$all":
		items, ok := stringSlice(operand)
		if !ok || len(items) == 0 {
			return false
		}
		for _, item := range items {
			if !containsString(values, item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func matchNumber(value float64, op string, operand any) bool {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		return ok && want
	case "$in":
		items, ok := numberSlice(operand)
		if !ok {
			return false
		}
		return containsFloat(items, value)
	case "$nin":
		items, ok := numberSlice(operand)
		if !ok {
			return true
		}
		return !containsFloat(items, value)
	case "$all":
		return false
	default:
		n, ok := toFloat(operand)
		if !ok {
			return false
		}
		return compareOrdered(compareFloats(value, n), op)
	}
}

func matchTimeValue(value time.Time, op string, operand any) bool {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		return ok && want
	case "$in", "$nin", "$all":
		return op == "$nin"
	default:
		ts, ok := toTime(operand)
		if !ok {
			return false
		}
		switch {
		case value.Before(ts):
			return compareOrdered(-1, op)
		case value.After(ts):
			return compareOrdered(1, op)
		default:
			return compareOrdered(0, op)
		}
	}
}

func matchMetadata(key, op string, operand any, metadata map[string]any) bool {
	value, present := metadata[key]

	switch op {
	case "$exists":
		want, ok := operand.(bool)
		return ok && want == present
	case "$eq":
		return present && metadataEqual(value, operand)
	case "$ne":
		return !present || !metadataEqual(value, operand)
	case "$in":
		items, ok := operand.([]any)
		if !ok || !present {
			return false
		}
		for _, item := range items {
			if metadataEqual(value, item) {
				return true
			}
		}
		return false
	case "$nin":
		items, ok := operand.([]any)
		if !ok || !present {
			return true
		}
		for _, item := range items {
			if metadataEqual(value, item) {
				return false
			}
		}
		return true
	case "$all":
		items, ok := operand.([]any)
		if !ok || len(items) == 0 || !present {
			return false
		}
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			found := false
			for _, v := range arr {
				if scalarEqual(v, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default: // ordered comparisons
		if !present {
			return false
		}
		if want, ok := toFloat(operand); ok {
			have, ok := toFloat(value)
			return ok && compareOrdered(compareFloats(have, want), op)
		}
		if want, ok := operand.(string); ok {
			have, ok := value.(string)
			return ok && compareOrdered(strings.Compare(have, want), op)
		}
		return false
	}
}

// metadataEqual matches a stored value against a scalar operand, treating an
// array-valued field as matching when it contains the operand.
func metadataEqual(stored, operand any) bool {
	if arr, ok := stored.([]any); ok {
		for _, v := range arr {
			if scalarEqual(v, operand) {
				return true
			}
		}
		return false
	}
	return scalarEqual(stored, operand)
}

func scalarEqual(a, b any) bool {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	na, okA := toFloat(a)
	nb, okB := toFloat(b)
	return okA && okB && na == nb
}

func compareOrdered(cmp int, op string) bool {
	switch op {
	case "$eq":
		return cmp == 0
	case "$ne":
		return cmp != 0
	case "$gt":
		return cmp > 0
	case "$gte":
		return cmp >= 0
	case "$lt":
		return cmp < 0
	case "$lte":
		return cmp <= 0
	default:
		return false
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func containsFloat(items []float64, n float64) bool {
	for _, item := range items {
		if item == n {
			return true
		}
	}
	return false
}
