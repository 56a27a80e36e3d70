package sheeterr

// Code represents standard spreadsheet error codes following Excel
// conventions. Built-in functions return them as *ValueError.
type Code uint8

const (
	CodeNull  Code = 1 // #NULL! - no cells in common between ranges
	CodeDiv0  Code = 2 // #DIV/0! - division by zero
	CodeValue Code = 3 // #VALUE! - wrong type of argument or operand
	CodeRef   Code = 4 // #REF! - invalid cell reference
	CodeName  Code = 5 // #NAME? - unrecognized function name
	CodeNum   Code = 6 // #NUM! - number too large or small to be represented
	CodeNA    Code = 7 // #N/A - not enough arguments for function
	CodeOther Code = 8 // #ERROR! - all other errors
)

// CodeMapper maps error codes to their display form.
var CodeMapper = map[Code]string{
	CodeNull:  "#NULL!",
	CodeDiv0:  "#DIV/0!",
	CodeValue: "#VALUE!",
	CodeRef:   "#REF!",
	CodeName:  "#NAME?",
	CodeNum:   "#NUM!",
	CodeNA:    "#N/A",
	CodeOther: "#ERROR!",
}

func (c Code) String() string {
	if s, ok := CodeMapper[c]; ok {
		return s
	}
	return CodeMapper[CodeOther]
}

// ValueError is a cell-level error value. It can flow through function
// arguments as a value before being surfaced as a FuncError.
type ValueError struct {
	Code    Code
	Message string
}

func (e *ValueError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

// NewValueError creates a ValueError, defaulting the message to the code's
// display form.
func NewValueError(code Code, message string) *ValueError {
	if message == "" {
		message = code.String()
	}
	return &ValueError{
		Code:    code,
		Message: message,
	}
}
