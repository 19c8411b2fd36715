package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDelimitedText(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    string
	}{
		{"empty", nil, ""},
		{
			"quoted comma",
			[]Record{{{Key: "a", Value: 1}, {Key: "b", Value: "x,y"}}},
			"a,b\n1,\"x,y\"",
		},
		{
			"several rows",
			[]Record{
				{{Key: "id", Value: "r1"}, {Key: "revenue", Value: 12.5}},
				{{Key: "id", Value: "r2"}, {Key: "revenue", Value: nil}},
			},
			"id,revenue\n\"r1\",12.5\n\"r2\",null",
		},
		{
			"html not escaped",
			[]Record{{{Key: "note", Value: "<a&b>"}}},
			"note\n\"<a&b>\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToDelimitedText(tt.records))
		})
	}
}

func TestRecordsFromKeepsFieldOrder(t *testing.T) {
	type row struct {
		Zeta  string  `json:"zeta"`
		Alpha float64 `json:"alpha"`
		Mid   bool    `json:"mid"`
	}
	records, err := RecordsFrom([]row{
		{Zeta: "z", Alpha: 1.5, Mid: true},
		{Zeta: "y,w", Alpha: 2},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, records[0].Keys())
	assert.Equal(t,
		"zeta,alpha,mid\n\"z\",1.5,true\n\"y,w\",2,false",
		ToDelimitedText(records))
}

func TestRecordsFromShapes(t *testing.T) {
	records, err := RecordsFrom(map[string]int{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, "n\n3", ToDelimitedText(records))

	records, err = RecordsFrom([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "value\n1\n2", ToDelimitedText(records))

	records, err = RecordsFrom([]int{})
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = RecordsFrom("scalar")
	assert.ErrorIs(t, err, ErrNotTabular)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Record{{{Key: "a", Value: true}}}))
	assert.Equal(t, "a\ntrue", buf.String())
}
