package dataid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    DataID
		wantErr bool
	}{
		{
			name:  "integers and strings",
			input: "visit=42,ccd=3,filter=g",
			want:  DataID{"visit": int64(42), "ccd": int64(3), "filter": "g"},
		},
		{
			name:  "float value",
			input: "taiObs=59580.5",
			want:  DataID{"taiObs": 59580.5},
		},
		{
			name:  "empty input",
			input: "  ",
			want:  DataID{},
		},
		{
			name:    "missing equals",
			input:   "visit",
			wantErr: true,
		},
		{
			name:    "empty key",
			input:   "=42",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(7), Normalize(7))
	assert.Equal(t, int64(7), Normalize(uint8(7)))
	assert.Equal(t, int64(7), Normalize(int32(7)))
	assert.Equal(t, float64(1.5), Normalize(float32(1.5)))
	assert.Equal(t, "raw", Normalize([]byte("raw")))
	assert.Nil(t, Normalize(nil))
}

func TestCopyIsIndependent(t *testing.T) {
	t.Parallel()

	orig := DataID{"visit": int64(42)}
	cp := orig.Copy()
	cp["ccd"] = int64(3)

	assert.Len(t, orig, 1)
	assert.Len(t, cp, 2)
}

func TestWithAndWithout(t *testing.T) {
	t.Parallel()

	id := DataID{"visit": int64(42)}
	withCcd := id.With("ccd", 3)

	assert.False(t, id.Has("ccd"))
	assert.Equal(t, int64(3), withCcd["ccd"])

	dropped := withCcd.Without("visit")
	assert.True(t, withCcd.Has("visit"))
	assert.False(t, dropped.Has("visit"))
}

func TestStringIsSorted(t *testing.T) {
	t.Parallel()

	id := DataID{"visit": int64(42), "ccd": int64(3), "filter": "g"}
	assert.Equal(t, "{ccd: 3, filter: g, visit: 42}", id.String())
}

func TestHash(t *testing.T) {
	t.Parallel()

	a := DataID{"visit": int64(42), "ccd": int64(3)}
	b := DataID{"ccd": int64(3), "visit": int64(42)}
	c := DataID{"visit": int64(42), "ccd": int64(4)}

	assert.Equal(t, a.Hash(), b.Hash(), "hash must not depend on construction order")
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.GreaterOrEqual(t, a.Hash(), int64(0))
	assert.Less(t, a.Hash(), int64(1)<<31)
}

func TestValueCoercions(t *testing.T) {
	t.Parallel()

	n, ok := AsInt64(41.9)
	require.True(t, ok)
	assert.Equal(t, int64(41), n, "floats truncate toward zero")

	_, ok = AsInt64("42")
	assert.False(t, ok, "strings never convert to integers")

	f, ok := AsFloat64(3)
	require.True(t, ok)
	assert.InDelta(t, 3.0, f, 1e-12)

	assert.Equal(t, "42", AsString(42))
	assert.Equal(t, "g", AsString("g"))
}
