package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		env  string
		want string
	}{
		{"url dev", "postgres://u:p@localhost:5432/db", "development", "postgres://u:p@localhost:5432/db?sslmode=disable"},
		{"url dev with query", "postgres://u:p@localhost:5432/db?pool_max_conns=5", "development", "postgres://u:p@localhost:5432/db?pool_max_conns=5&sslmode=disable"},
		{"keyword dev", "host=localhost dbname=db", "development", "host=localhost dbname=db sslmode=disable"},
		{"explicit sslmode", "postgres://h/db?sslmode=require", "development", "postgres://h/db?sslmode=require"},
		{"production untouched", "postgres://h/db", "production", "postgres://h/db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDSN(tt.dsn, tt.env))
		})
	}
}
