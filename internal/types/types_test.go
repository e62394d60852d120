package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColumnType(t *testing.T) {
	dt, nullable, err := ParseColumnType("Nullable(Int32)")
	require.NoError(t, err)
	assert.Equal(t, TypeInt32, dt)
	assert.True(t, nullable)

	dt, nullable, err = ParseColumnType("string")
	require.NoError(t, err)
	assert.Equal(t, TypeString, dt)
	assert.False(t, nullable)

	_, _, err = ParseColumnType("Decimal")
	assert.Error(t, err)
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		dt      DataType
		in      Value
		want    Value
		wantErr bool
	}{
		{"int literal to UInt8", TypeUInt8, int64(200), uint8(200), false},
		{"overflow UInt8", TypeUInt8, int64(300), nil, true},
		{"negative to UInt32", TypeUInt32, int64(-1), nil, true},
		{"int to Int16", TypeInt16, int64(-5), int16(-5), false},
		{"whole float to Int64", TypeInt64, float64(42), int64(42), false},
		{"fractional float to Int64", TypeInt64, 4.5, nil, true},
		{"string to DateTime", TypeDateTime, "1970-01-02", uint32(86400), false},
		{"string to Int32", TypeInt32, "17", int32(17), false},
		{"null stays null", TypeInt32, nil, nil, false},
		{"int to String", TypeString, int64(7), "7", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.dt, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareValuesNullOrdersFirst(t *testing.T) {
	assert.Equal(t, -1, CompareValues(TypeInt64, nil, int64(-100)))
	assert.Equal(t, 1, CompareValues(TypeInt64, int64(-100), nil))
	assert.Equal(t, 0, CompareValues(TypeInt64, nil, nil))
	assert.Equal(t, -1, CompareValues(TypeString, "a", "b"))
}

func TestRowEncodingRoundTrip(t *testing.T) {
	s := &Schema{Columns: []ColumnDef{
		{Name: "id", DataType: TypeUInt64},
		{Name: "name", DataType: TypeString, Nullable: true},
		{Name: "ts", DataType: TypeDateTime},
		{Name: "score", DataType: TypeFloat64},
	}}
	row := Row{uint64(9), nil, uint32(1700000000), 2.5}
	require.NoError(t, s.CheckRow(row))

	enc := AppendRow(nil, s, row)
	got, n, err := DecodeRow(s, enc)
	require.NoError(t, err)
	assert.Equal(t, len(enc), n)
	assert.Equal(t, row, got)

	_, _, err = DecodeRow(s, enc[:len(enc)-3])
	assert.Error(t, err)
}

func TestCheckRow(t *testing.T) {
	s := &Schema{Columns: []ColumnDef{{Name: "a", DataType: TypeInt32}}}
	assert.Error(t, s.CheckRow(Row{nil}))
	assert.Error(t, s.CheckRow(Row{int64(1)}))
	assert.NoError(t, s.CheckRow(Row{int32(1)}))
}
