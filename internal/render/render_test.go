package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = [][]any{
	{"a", int64(0), 0.5, []string{"web", "db"}, time.Unix(1000, 0), map[string]string{"OS": "linux", "A": "1"}},
	{"b;c", int64(2), 3.0, []string(nil), time.Time{}, map[string]string{}},
}

var sampleHeaders = []string{"host", "state", "latency", "groups", "last_check", "vars"}

func renderAll(t *testing.T, opts Options, headers []string, rows [][]any) string {
	t.Helper()
	var buf bytes.Buffer
	w := New(&buf, opts)
	require.NoError(t, w.Begin(headers))
	for _, r := range rows {
		require.NoError(t, w.Row(r))
	}
	require.NoError(t, w.End())
	return buf.String()
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		headers []string
		want    string
	}{
		{
			name: "csv",
			opts: Options{Format: FormatCSV, Separators: DefaultSeparators},
			want: "a;0;0.5;web,db;1000;A|1,OS|linux\n" +
				"b;c;2;3;;0;\n",
		},
		{
			name:    "csv headers and separators",
			opts:    Options{Format: FormatCSV, Separators: Separators{Dataset: '\n', Field: ',', List: '|', HostService: '='}},
			headers: sampleHeaders,
			want: "host,state,latency,groups,last_check,vars\n" +
				"a,0,0.5,web|db,1000,A=1|OS=linux\n" +
				"b;c,2,3,,0,\n",
		},
		{
			name: "csv offset",
			opts: Options{Format: FormatCSV, Separators: DefaultSeparators, Offset: 3600},
			want: "a;0;0.5;web,db;4600;A|1,OS|linux\n" +
				"b;c;2;3;;0;\n",
		},
		{
			name:    "strict csv",
			opts:    Options{Format: FormatCSVStrict},
			headers: []string{"host", "groups"},
			want:    "host,groups\r\n" + "a,0,0.5,\"web,db\",1000,\"A|1,OS|linux\"\r\n" + "b;c,2,3,,0,\r\n",
		},
		{
			name: "json",
			opts: Options{Format: FormatJSON},
			want: `[["a",0,0.5,["web","db"],1000,{"A":"1","OS":"linux"}],` + "\n" +
				`["b;c",2,3,[],0,{}]]` + "\n",
		},
		{
			name:    "wrapped json",
			opts:    Options{Format: FormatWrappedJSON},
			headers: []string{"h"},
			want: `{"data":[["h"],` + "\n" +
				`["a",0,0.5,["web","db"],1000,{"A":"1","OS":"linux"}],` + "\n" +
				`["b;c",2,3,[],0,{}]],"total_count":2}` + "\n",
		},
		{
			name: "python",
			opts: Options{Format: FormatPython},
			want: `[[u"a", 0, 0.5, [u"web", u"db"], 1000, {u"A": u"1", u"OS": u"linux"}],` + "\n" +
				`[u"b;c", 2, 3, [], 0, {}]]` + "\n",
		},
		{
			name: "python3",
			opts: Options{Format: FormatPython3},
			want: `[["a", 0, 0.5, ["web", "db"], 1000, {"A": "1", "OS": "linux"}],` + "\n" +
				`["b;c", 2, 3, [], 0, {}]]` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderAll(t, tt.opts, tt.headers, sample))
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatCSV, ""},
		{FormatCSVStrict, ""},
		{FormatJSON, "[]\n"},
		{FormatWrappedJSON, `{"data":[],"total_count":0}` + "\n"},
		{FormatPython, "[]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, renderAll(t, Options{Format: tt.format, Separators: DefaultSeparators}, nil, nil))
		})
	}
}

func TestRenderEscaping(t *testing.T) {
	row := [][]any{{"é\"x", []byte{'o', 'k', 0, 0xff}}}
	assert.Equal(t, `[[u"\u00e9\"x", u"ok\x00\xff"]]`+"\n", renderAll(t, Options{Format: FormatPython}, nil, row))
	assert.Equal(t, `[["é\"x", b"ok\x00\xff"]]`+"\n", renderAll(t, Options{Format: FormatPython3}, nil, row))
}

func TestFixed16(t *testing.T) {
	assert.Equal(t, "200          12\n", string(Header(200, 12)))
	assert.Len(t, Header(413, 1<<30), HeaderSize)

	var buf bytes.Buffer
	require.NoError(t, WriteFixed16(&buf, 400, []byte("bad\n")))
	assert.Equal(t, "400           4\nbad\n", buf.String())
}

func TestLimitedBuffer(t *testing.T) {
	b := &LimitedBuffer{Max: 8}
	_, err := b.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = b.Write([]byte("6789"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, "12345", b.String())

	unlimited := &LimitedBuffer{}
	_, err = unlimited.Write(make([]byte, 1<<16))
	assert.NoError(t, err)
}

func TestParseSeparators(t *testing.T) {
	seps, err := ParseSeparators("10 44")
	require.NoError(t, err)
	assert.Equal(t, Separators{Dataset: '\n', Field: ',', List: ',', HostService: '|'}, seps)

	_, err = ParseSeparators("300")
	assert.Error(t, err)
	_, err = ParseSeparators("")
	assert.Error(t, err)

	f, ok := ParseFormat("CSV")
	assert.True(t, ok)
	assert.Equal(t, FormatCSVStrict, f)
	_, ok = ParseFormat("Json")
	assert.False(t, ok)
}
