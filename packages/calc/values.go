package calc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// checkForError returns the error if value is a *sheeterr.ValueError, nil
// otherwise
func checkForError(value any) *sheeterr.ValueError {
	if err, ok := value.(*sheeterr.ValueError); ok {
		return err
	}
	return nil
}

// values iterates an argument: ranges ([]any) yield each of their cells,
// anything else yields itself. the bool reports whether the value came from
// a range.
func values(arg any, fn func(value any, fromRange bool) error) error {
	if r, ok := arg.([]any); ok {
		for _, value := range r {
			if err := fn(value, true); err != nil {
				return err
			}
		}
		return nil
	}
	return fn(arg, false)
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}

// isTruthy checks if value is truthy
func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}

// compare returns -1 if left < right, 0 if equal, 1 if left > right. nil
// sorts first, numbers compare numerically, everything else as text.
func compare(left, right any) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	leftNum, leftIsNum := toNumber(left)
	rightNum, rightIsNum := toNumber(right)
	if leftIsNum && rightIsNum {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		}
		return 0
	}

	leftBool, leftIsBool := left.(bool)
	rightBool, rightIsBool := right.(bool)
	if leftIsBool && rightIsBool {
		switch {
		case leftBool == rightBool:
			return 0
		case !leftBool:
			return -1
		}
		return 1
	}

	return strings.Compare(toString(left), toString(right))
}
