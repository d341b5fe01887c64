package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableDefinitions(t *testing.T) {
	assert.NotEmpty(t, TableDefinitions)
	for _, statement := range TableDefinitions {
		upper := strings.ToUpper(statement)
		assert.Contains(t, upper, "CREATE TABLE IF NOT EXISTS")
		assert.NotContains(t, upper, "REFERENCES")
		assert.NotContains(t, upper, "CHECK")
	}
}

func TestIndexDefinitions(t *testing.T) {
	for _, statement := range IndexDefinitions {
		assert.Contains(t, statement, "CREATE INDEX IF NOT EXISTS")
		assert.Contains(t, statement, "delivery_history")
	}
}
