package record

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SetKeepsPosition(t *testing.T) {
	r := New()
	r.Set("a", String("1"))
	r.Set("b", String("2"))
	r.Set("a", String("3"))

	assert.Equal(t, []string{"a", "b"}, r.Fields())
	assert.Equal(t, "3", r.Get("a").Text())
}

func TestRecord_ZeroValueUsable(t *testing.T) {
	var r Record
	assert.True(t, r.Get("missing").IsNull())
	assert.False(t, r.Has("missing"))

	r.Set("x", String("y"))
	assert.True(t, r.Has("x"))
}

func TestRecord_Rename(t *testing.T) {
	r := FromPairs("a", "1", "lei", "L1", "c", "3")
	r.Rename("lei", FieldLegalEntityIdentifier)

	assert.Equal(t, []string{"a", FieldLegalEntityIdentifier, "c"}, r.Fields())
	assert.Equal(t, "L1", r.Get(FieldLegalEntityIdentifier).Text())
	assert.False(t, r.Has("lei"))
}

func TestRecord_RenameOverwritesTarget(t *testing.T) {
	r := FromPairs("to", "old", "from", "new")
	r.Rename("from", "to")

	assert.Equal(t, []string{"to"}, r.Fields())
	assert.Equal(t, "new", r.Get("to").Text())
}

func TestRecord_Delete(t *testing.T) {
	r := FromPairs("a", "1", "b", "2", "c", "3")
	r.Delete("b")
	r.Delete("missing")

	assert.Equal(t, []string{"a", "c"}, r.Fields())
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := FromPairs("a", "1")
	c := r.Clone()
	c.Set("a", String("2"))
	c.Set("b", String("3"))

	assert.Equal(t, "1", r.Get("a").Text())
	assert.False(t, r.Has("b"))
}

func TestRecord_Equal(t *testing.T) {
	a := FromPairs("n", Number(decimal.RequireFromString("110.0")), "s", "x", "z", nil)
	b := FromPairs("n", Number(decimal.NewFromInt(110)), "s", "x", "z", nil)
	assert.True(t, a.Equal(b))

	c := FromPairs("s", "x", "n", Number(decimal.NewFromInt(110)), "z", nil)
	assert.False(t, a.Equal(c), "order matters")

	d := FromPairs("n", String("110"), "s", "x", "z", nil)
	assert.False(t, a.Equal(d), "kind matters")
}

func TestRecord_Map(t *testing.T) {
	r := FromPairs("n", Number(decimal.RequireFromString("1.5")), "s", "x", "z", nil)
	m := r.Map()

	require.Len(t, m, 3)
	assert.Equal(t, json.Number("1.5"), m["n"])
	assert.Equal(t, "x", m["s"])
	assert.Nil(t, m["z"])
}

func TestValue_Decimal(t *testing.T) {
	tests := []struct {
		name    string
		value   Value
		want    string
		wantErr bool
	}{
		{"number", Number(decimal.RequireFromString("2.5")), "2.5", false},
		{"numeric text", String(" 100 "), "100", false},
		{"exponent", String("1e2"), "100", false},
		{"empty", String(""), "", true},
		{"text", String("abc"), "", true},
		{"nan", String("NaN"), "", true},
		{"null", Null(), "", true},
		{"largest exponent", String("1e64"), "1e64", false},
		{"huge exponent", String("1e999999999"), "", true},
		{"tiny exponent", String("1e-999999999"), "", true},
		{"huge exponent number", Number(decimal.New(1, 999999999)), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.value.Decimal()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, d.Equal(decimal.RequireFromString(tt.want)), "got %s", d)
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("-12.50")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.New(-125, -1)))

	_, err = ParseDecimal("1e65")
	assert.ErrorContains(t, err, "exponent 65 out of range")

	_, err = ParseDecimal("twelve")
	assert.Error(t, err)
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(Null()))
	assert.True(t, IsBlank(String("  ")))
	assert.False(t, IsBlank(String("T1")))
	assert.False(t, IsBlank(Number(decimal.Zero)))
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical(FieldNotionalEUR))
	assert.False(t, IsCanonical(SynonymLEI))
	assert.Len(t, Canonical, 11)
}

func TestRecord_MarshalJSONKeepsOrder(t *testing.T) {
	r := FromPairs("z", "last", "n", Number(decimal.RequireFromString("110.0")), "a", nil)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"last","n":110,"a":null}`, string(out))
}
