package sheeterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularRef(t *testing.T) {
	err := NewCircularRef("A1/B2/A1")
	assert.Equal(t, RefCircular, err.Type)
	assert.True(t, err.Includes("B2"))
	assert.False(t, err.Includes("B"))

	err.Children = []*RefError{NewCircularRef("B2/A1/B2")}
	shallow := err.Shallow()
	assert.Nil(t, shallow.Children)
	assert.Equal(t, err.Path, shallow.Path)
}

func TestFuncErrorUnwrap(t *testing.T) {
	cause := NewValueError(CodeDiv0, "")
	err := &FuncError{Type: FuncInvoke, Message: cause.Error(), Cell: "A1", Err: cause}

	var value *ValueError
	require.True(t, errors.As(err, &value))
	assert.Equal(t, CodeDiv0, value.Code)
	assert.Equal(t, "#DIV/0!", value.Error())
	assert.Contains(t, err.Error(), "[A1]")
}

func TestList(t *testing.T) {
	list := NewList(TypeDef)
	require.True(t, list.Ok())

	list.Add("ns:foo", "bad casing", WithColumn("A"))
	list.Add("ns:foo", "missing", WithType(NsNotFound))

	items := list.Items()
	require.Len(t, items, 2)
	assert.Equal(t, TypeDef, items[0].Type)
	assert.Equal(t, "A", items[0].Column)
	assert.Equal(t, NsNotFound, items[1].Type)
	assert.False(t, list.Ok())
	assert.Equal(t, "TYPE/def: bad casing [ns:foo:A]", items[0].Error())
}

func TestAppErrorIs(t *testing.T) {
	err := fmt.Errorf("load: %w", NewAppError(FailedPrecondition, "sheet disposed"))
	assert.True(t, errors.Is(err, ErrFailedPrecondition))
	assert.False(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, FailedPrecondition, CodeOf(err))
	assert.Equal(t, Unknown, CodeOf(errors.New("boom")))
	assert.Equal(t, OK, CodeOf(nil))
}
