package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/livequery/client"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "web1", "web1"},
		{"number", float64(2), "2"},
		{"fraction", 0.25, "0.25"},
		{"list", []any{"a", "b"}, "a,b"},
		{"nested", []any{[]any{"x", float64(1)}}, "x,1"},
		{"dict", map[string]any{"os": "linux", "tag": "prod"}, "os=linux,tag=prod"},
		{"null", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, format(tt.in))
		})
	}
}

func TestPrintResult(t *testing.T) {
	res := &client.Result{
		Columns: []string{"name", "state"},
		Rows:    [][]any{{"a", float64(0)}, {"web", float64(2)}},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, "", false))
	assert.Equal(t, "name  state\na     0\nweb   2\n", buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, res, "west", true))
	assert.Equal(t, "[\"west\",\"a\",0]\n[\"west\",\"web\",2]\n", buf.String())
}

func TestRunRejectsEmptyRequest(t *testing.T) {
	err := run(options{Socket: "tcp://127.0.0.1:1"}, nil, strings.NewReader("\n\n"), &bytes.Buffer{})
	assert.EqualError(t, err, "empty request")
}
