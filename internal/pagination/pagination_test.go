package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	p := Normalize(0, 0)
	assert.Equal(t, Params{Page: 1, Limit: DefaultLimit}, p)

	p = Normalize(-3, 1000)
	assert.Equal(t, Params{Page: 1, Limit: MaxLimit}, p)

	p = Normalize(4, 25)
	assert.Equal(t, Params{Page: 4, Limit: 25}, p)
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Params{Page: 1, Limit: 20}.Offset())
	assert.Equal(t, 60, Params{Page: 4, Limit: 20}.Offset())
}

func TestNewMeta(t *testing.T) {
	meta := NewMeta(Params{Page: 2, Limit: 20}, 41)
	assert.Equal(t, Meta{Page: 2, Limit: 20, Total: 41, TotalPages: 3}, meta)

	meta = NewMeta(Params{Page: 1, Limit: 20}, 0)
	assert.Equal(t, 0, meta.TotalPages)
}
