package record_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/tracelog/record"
)

func TestTable(t *testing.T) {
	t.Parallel()
	table, err := record.NewTable(
		record.Entry{ID: 300, Name: "long"},
		record.Entry{ID: 1, Name: "short", Descriptor: record.FixedSize(8)},
		record.Entry{ID: 70, Descriptor: record.FixedSize(2)},
	)
	require.Nil(t, err)

	assert.Equal(t, record.FixedSize(8), table.Lookup(1))
	assert.Equal(t, record.FixedSize(2), table.Lookup(70))
	assert.Equal(t, record.Variable, table.Lookup(300))
	assert.Equal(t, record.Variable, table.Lookup(2))
	assert.Equal(t, "short", table.Name(1))
	assert.Equal(t, "id70", table.Name(70))
	assert.Equal(t, "id9", table.Name(9))

	entries := table.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, record.ID(1), entries[0].ID)
	assert.Equal(t, record.ID(300), entries[2].ID)

	var nilTable *record.Table
	assert.Equal(t, record.Variable, nilTable.Lookup(5))
}

func TestTableRejectsBadEntries(t *testing.T) {
	t.Parallel()
	_, err := record.NewTable(record.Entry{ID: 0})
	assert.ErrorIs(t, err, record.ErrInvalidArgument)

	_, err = record.NewTable(record.Entry{ID: 4}, record.Entry{ID: 4})
	assert.ErrorIs(t, err, record.ErrInvalidArgument)
}

func TestDescriptorString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "variable", record.Variable.String())
	assert.Equal(t, "fixed(10)", record.FixedSize(10).String())
	assert.Equal(t, "1.02.03", record.Version{Major: 1, Minor: 2, Update: 3}.String())
}
