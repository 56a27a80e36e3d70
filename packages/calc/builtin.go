package calc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// DefaultNamespace is the namespace of the built-in functions and of
// unqualified function names.
const DefaultNamespace = "sys"

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// Registry maps (namespace, name) pairs to functions. Names are case
// insensitive. Its GetFunc method satisfies the GetFunc collaborator.
type Registry struct {
	mu    sync.RWMutex
	funcs map[FuncRef]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[FuncRef]Func{}}
}

func normalize(ref FuncRef) FuncRef {
	if ref.Namespace == "" {
		ref.Namespace = DefaultNamespace
	}
	ref.Name = strings.ToUpper(ref.Name)
	return ref
}

// Register adds or replaces a function.
func (r *Registry) Register(namespace, name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[normalize(FuncRef{Namespace: namespace, Name: name})] = fn
}

// GetFunc returns the registered function, or nil when there is none.
func (r *Registry) GetFunc(_ context.Context, ref FuncRef) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[normalize(ref)], nil
}

// Names lists the registered functions of a namespace, sorted.
func (r *Registry) Names(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for ref := range r.funcs {
		if ref.Namespace == namespace {
			names = append(names, ref.Name)
		}
	}
	slices.Sort(names)
	return names
}

// BuiltinOption configures Builtins.
type BuiltinOption func(*builtins)

// WithClock replaces the clock used by NOW and TODAY.
func WithClock(clock Clock) BuiltinOption {
	return func(b *builtins) { b.clock = clock }
}

// WithRandom replaces the generator used by RAND.
func WithRandom(rng RandomGenerator) BuiltinOption {
	return func(b *builtins) { b.rng = rng }
}

// Builtins returns a registry holding the spreadsheet built-in functions in
// the DefaultNamespace, including the functions the binary operators map to.
func Builtins(opts ...BuiltinOption) *Registry {
	b := &builtins{
		clock: &WallClock{},
		rng:   &DefaultRandomGenerator{},
	}
	for _, opt := range opts {
		opt(b)
	}

	r := NewRegistry()
	for name, fn := range map[string]func(args ...any) (any, error){
		"SUM":         b.SUM,
		"SUBTRACT":    b.SUBTRACT,
		"MULTIPLY":    b.MULTIPLY,
		"DIVIDE":      b.DIVIDE,
		"MOD":         b.MOD,
		"POWER":       b.POWER,
		"CONCAT":      b.CONCATENATE,
		"EQ":          b.comparison(func(c int) bool { return c == 0 }),
		"NE":          b.comparison(func(c int) bool { return c != 0 }),
		"LT":          b.comparison(func(c int) bool { return c < 0 }),
		"LTE":         b.comparison(func(c int) bool { return c <= 0 }),
		"GT":          b.comparison(func(c int) bool { return c > 0 }),
		"GTE":         b.comparison(func(c int) bool { return c >= 0 }),
		"AVERAGE":     b.AVERAGE,
		"AVERAGEA":    b.AVERAGEA,
		"COUNT":       b.COUNT,
		"COUNTA":      b.COUNTA,
		"MAX":         b.MAX,
		"MIN":         b.MIN,
		"MEDIAN":      b.MEDIAN,
		"MODE":        b.MODE,
		"IF":          b.IF,
		"AND":         b.AND,
		"OR":          b.OR,
		"NOT":         b.NOT,
		"CONCATENATE": b.CONCATENATE,
		"LEN":         b.LEN,
		"UPPER":       b.UPPER,
		"LOWER":       b.LOWER,
		"TRIM":        b.TRIM,
		"ABS":         b.ABS,
		"ROUND":       b.ROUND,
		"FLOOR":       b.FLOOR,
		"CEILING":     b.CEILING,
		"SQRT":        b.SQRT,
		"PI":          b.PI,
		"NOW":         b.NOW,
		"TODAY":       b.TODAY,
		"RAND":        b.RAND,
	} {
		r.Register(DefaultNamespace, name, adapt(fn))
	}
	return r
}

func adapt(fn func(args ...any) (any, error)) Func {
	return func(_ context.Context, args FuncArgs) (any, error) {
		return fn(args.Params...)
	}
}

// builtins contains all spreadsheet built-in functions
type builtins struct {
	clock Clock
	rng   RandomGenerator
}

func (bf *builtins) SUM(args ...any) (any, error) {
	sum := 0.0
	for _, arg := range args {
		err := values(arg, func(value any, fromRange bool) error {
			if err := checkForError(value); err != nil {
				return err
			}
			if num, ok := toNumber(value); ok && !math.IsNaN(num) {
				sum += num
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
	return rounded, nil
}

// arithmetic applies a numeric binary operation
func arithmetic(name string, args []any, op func(a, b float64) (float64, error)) (any, error) {
	if len(args) != 2 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, fmt.Sprintf("%s requires exactly 2 arguments", name))
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
	}
	left, leftOk := toNumber(args[0])
	right, rightOk := toNumber(args[1])
	if !leftOk || !rightOk {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("%s requires numeric values", name))
	}
	result, err := op(left, right)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bf *builtins) SUBTRACT(args ...any) (any, error) {
	return arithmetic("SUBTRACT", args, func(a, b float64) (float64, error) { return a - b, nil })
}

func (bf *builtins) MULTIPLY(args ...any) (any, error) {
	return arithmetic("MULTIPLY", args, func(a, b float64) (float64, error) { return a * b, nil })
}

func (bf *builtins) DIVIDE(args ...any) (any, error) {
	return arithmetic("DIVIDE", args, func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, sheeterr.NewValueError(sheeterr.CodeDiv0, "Division by zero")
		}
		return a / b, nil
	})
}

func (bf *builtins) POWER(args ...any) (any, error) {
	return arithmetic("POWER", args, func(a, b float64) (float64, error) { return math.Pow(a, b), nil })
}

func (bf *builtins) MOD(args ...any) (any, error) {
	return arithmetic("MOD", args, func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, sheeterr.NewValueError(sheeterr.CodeDiv0, "Division by zero")
		}
		return math.Mod(a, b), nil
	})
}

func (bf *builtins) comparison(test func(c int) bool) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, sheeterr.NewValueError(sheeterr.CodeNA, "comparison requires exactly 2 arguments")
		}
		for _, arg := range args {
			if err := checkForError(arg); err != nil {
				return nil, err
			}
		}
		return test(compare(args[0], args[1])), nil
	}
}

func (bf *builtins) AVERAGE(args ...any) (any, error) {
	sum := 0.0
	count := 0
	for _, arg := range args {
		err := values(arg, func(value any, fromRange bool) error {
			if err := checkForError(value); err != nil {
				return err
			}
			// empty cells in ranges are skipped
			if value == nil && fromRange {
				return nil
			}
			if num, ok := toNumber(value); ok && !math.IsNaN(num) {
				sum += num
				count++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if count == 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeDiv0, "Division by zero")
	}
	return sum / float64(count), nil
}

func (bf *builtins) AVERAGEA(args ...any) (any, error) {
	sum := 0.0
	count := 0
	for _, arg := range args {
		err := values(arg, func(value any, fromRange bool) error {
			// nil values (empty cells) are ignored
			if value == nil {
				return nil
			}
			if err := checkForError(value); err != nil {
				return err
			}
			// AVERAGEA counts all non-empty values but only numbers and
			// booleans contribute to the sum
			switch v := value.(type) {
			case bool:
				if v {
					sum++
				}
				count++
			case string:
				count++
			default:
				if num, ok := toNumber(v); ok {
					sum += num
					count++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if count == 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeRef, "AVERAGEA has no values")
	}
	return sum / float64(count), nil
}

func (bf *builtins) COUNT(args ...any) (any, error) {
	count := 0
	for _, arg := range args {
		// direct errors propagate, errors inside ranges are skipped
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		_ = values(arg, func(value any, fromRange bool) error {
			switch value.(type) {
			case float64, float32, int, int64, int32:
				count++
			}
			return nil
		})
	}
	return float64(count), nil
}

func (bf *builtins) COUNTA(args ...any) (any, error) {
	count := 0
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		// counts everything except empty cells, errors included
		_ = values(arg, func(value any, fromRange bool) error {
			if value != nil || !fromRange {
				count++
			}
			return nil
		})
	}
	return float64(count), nil
}

// numbers collects the numeric values of args, propagating errors
func numbers(args []any) ([]float64, error) {
	var out []float64
	for _, arg := range args {
		err := values(arg, func(value any, fromRange bool) error {
			if err := checkForError(value); err != nil {
				return err
			}
			if value == nil && fromRange {
				return nil
			}
			if num, ok := toNumber(value); ok && !math.IsNaN(num) {
				out = append(out, num)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (bf *builtins) MAX(args ...any) (any, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return 0.0, nil
	}
	return slices.Max(nums), nil
}

func (bf *builtins) MIN(args ...any) (any, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return 0.0, nil
	}
	return slices.Min(nums), nil
}

func (bf *builtins) MEDIAN(args ...any) (any, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNum, "MEDIAN has no numeric values")
	}
	slices.Sort(nums)

	mid := len(nums) / 2
	if len(nums)%2 == 0 {
		// even count: average of two middle values
		return (nums[mid-1] + nums[mid]) / 2, nil
	}
	return nums[mid], nil
}

func (bf *builtins) MODE(args ...any) (any, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNum, "MODE has no numeric values")
	}

	frequency := make(map[float64]int)
	maxFreq := 0
	for _, num := range nums {
		frequency[num]++
		maxFreq = max(maxFreq, frequency[num])
	}
	if maxFreq == 1 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "MODE: no value appears more than once")
	}

	// smallest of the most frequent values
	var modes []float64
	for value, freq := range frequency {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	return slices.Min(modes), nil
}

func (bf *builtins) IF(args ...any) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "IF requires 2 or 3 arguments")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	if isTruthy(args[0]) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return false, nil
}

func (bf *builtins) AND(args ...any) (any, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if !isTruthy(arg) {
			return false, nil
		}
	}
	return true, nil
}

func (bf *builtins) OR(args ...any) (any, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if isTruthy(arg) {
			return true, nil
		}
	}
	return false, nil
}

// single validates a one argument call
func single(name string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, fmt.Sprintf("%s requires exactly 1 argument", name))
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return args[0], nil
}

// singleNumber validates a one argument numeric call
func singleNumber(name string, args []any) (float64, error) {
	arg, err := single(name, args)
	if err != nil {
		return 0, err
	}
	num, ok := toNumber(arg)
	if !ok {
		return 0, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("%s requires a numeric argument", name))
	}
	return num, nil
}

func (bf *builtins) NOT(args ...any) (any, error) {
	arg, err := single("NOT", args)
	if err != nil {
		return nil, err
	}
	return !isTruthy(arg), nil
}

func (bf *builtins) CONCATENATE(args ...any) (any, error) {
	var result strings.Builder
	for _, arg := range args {
		err := values(arg, func(value any, fromRange bool) error {
			if err := checkForError(value); err != nil {
				return err
			}
			result.WriteString(toString(value))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result.String(), nil
}

func (bf *builtins) LEN(args ...any) (any, error) {
	arg, err := single("LEN", args)
	if err != nil {
		return nil, err
	}
	return float64(len([]rune(toString(arg)))), nil
}

func (bf *builtins) UPPER(args ...any) (any, error) {
	arg, err := single("UPPER", args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(toString(arg)), nil
}

func (bf *builtins) LOWER(args ...any) (any, error) {
	arg, err := single("LOWER", args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(toString(arg)), nil
}

func (bf *builtins) TRIM(args ...any) (any, error) {
	arg, err := single("TRIM", args)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(toString(arg)), nil
}

func (bf *builtins) ABS(args ...any) (any, error) {
	num, err := singleNumber("ABS", args)
	if err != nil {
		return nil, err
	}
	return math.Abs(num), nil
}

func (bf *builtins) ROUND(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "ROUND requires 1 or 2 arguments")
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
	}

	num, ok := toNumber(args[0])
	if !ok {
		return nil, sheeterr.NewValueError(sheeterr.CodeValue, "ROUND requires a numeric first argument")
	}
	places := 0.0
	if len(args) == 2 {
		if places, ok = toNumber(args[1]); !ok {
			return nil, sheeterr.NewValueError(sheeterr.CodeValue, "ROUND requires a numeric second argument")
		}
	}

	multiplier := math.Pow(10, places)
	return math.Round(num*multiplier) / multiplier, nil
}

func (bf *builtins) FLOOR(args ...any) (any, error) {
	num, err := singleNumber("FLOOR", args)
	if err != nil {
		return nil, err
	}
	return math.Floor(num), nil
}

func (bf *builtins) CEILING(args ...any) (any, error) {
	num, err := singleNumber("CEILING", args)
	if err != nil {
		return nil, err
	}
	return math.Ceil(num), nil
}

func (bf *builtins) SQRT(args ...any) (any, error) {
	num, err := singleNumber("SQRT", args)
	if err != nil {
		return nil, err
	}
	if num < 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNum, "SQRT requires a non-negative argument")
	}
	return math.Sqrt(num), nil
}

func (bf *builtins) PI(args ...any) (any, error) {
	if len(args) != 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "PI takes no arguments")
	}
	return math.Pi, nil
}

// serial dates count days since December 30, 1899 00:00:00 UTC
const (
	epochMs  = -2209161600000
	msPerDay = 86400000
)

func (bf *builtins) NOW(args ...any) (any, error) {
	if len(args) != 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "NOW takes no arguments")
	}
	now := bf.clock.Now()
	return float64(now.UnixMilli()-epochMs) / msPerDay, nil
}

func (bf *builtins) TODAY(args ...any) (any, error) {
	if len(args) != 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "TODAY takes no arguments")
	}
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return math.Floor(float64(midnight.UnixMilli()-epochMs) / msPerDay), nil
}

func (bf *builtins) RAND(args ...any) (any, error) {
	if len(args) != 0 {
		return nil, sheeterr.NewValueError(sheeterr.CodeNA, "RAND takes no arguments")
	}
	return bf.rng.Float64(), nil
}
