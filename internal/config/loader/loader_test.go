package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

type span time.Duration

func (s *span) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*s = span(d)
	return nil
}

func (s span) MarshalText() ([]byte, error) {
	return []byte(time.Duration(s).String()), nil
}

type server struct {
	Name  string `toml:"name" yaml:"name" env:"NAME"`
	Port  int    `toml:"port" yaml:"port" env:"PORT"`
	Limit span   `toml:"limit" yaml:"limit" env:"LIMIT"`
}

type settings struct {
	Server server   `toml:"server" yaml:"server" envPrefix:"SERVER_"`
	Tags   []string `toml:"tags" yaml:"tags" env:"TAGS" envSeparator:","`
	Debug  bool     `toml:"debug" yaml:"debug" env:"DEBUG"`
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"pulse.toml", FormatTOML},
		{"/etc/pulse/pulse.TOML", FormatTOML},
		{"pulse.yaml", FormatYAML},
		{"pulse.yml", FormatYAML},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := FormatOf("pulse.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_DecodeFileTOML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/pulse.toml", `
tags = ["a", "b"]

[server]
name = "edge"
limit = "1m30s"
`)

	s := settings{Server: server{Port: 8080}}
	require.NoError(t, NewWithFS(memfs).DecodeFile("/pulse.toml", &s))

	assert.Equal(t, "edge", s.Server.Name)
	assert.Equal(t, 8080, s.Server.Port, "absent keys keep their value")
	assert.Equal(t, span(90*time.Second), s.Server.Limit)
	assert.Equal(t, []string{"a", "b"}, s.Tags)
}

func TestLoader_DecodeFileYAML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/pulse.yaml", `
server:
  name: edge
  port: 9090
  limit: 250ms
debug: true
`)

	var s settings
	require.NoError(t, NewWithFS(memfs).DecodeFile("/pulse.yaml", &s))

	assert.Equal(t, server{Name: "edge", Port: 9090, Limit: span(250 * time.Millisecond)}, s.Server)
	assert.True(t, s.Debug)
}

func TestLoader_DecodeEmptyYAML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/empty.yml", "")

	s := settings{Debug: true}
	require.NoError(t, NewWithFS(memfs).DecodeFile("/empty.yml", &s))
	assert.True(t, s.Debug)
}

func TestLoader_DecodeFileMissing(t *testing.T) {
	var s settings
	err := NewWithFS(NewMemFS()).DecodeFile("/missing.toml", &s)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoader_DecodeFileUnsupported(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/pulse.ini", "x=1")

	var s settings
	err := NewWithFS(memfs).DecodeFile("/pulse.ini", &s)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_ParseErrorTOML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.toml", "[server]\nname = \n")

	var s settings
	err := NewWithFS(memfs).DecodeFile("/bad.toml", &s)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "/bad.toml", pe.Path)
	assert.Equal(t, 2, pe.Line)
	assert.Contains(t, pe.Error(), "line 2")
}

func TestLoader_UnknownKeysRejected(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/typo.toml", "[server]\nnmae = \"edge\"\n")
	memfs.AddFile("/typo.yaml", "server:\n  nmae: edge\n")

	var s settings
	var pe *ParseError
	assert.ErrorAs(t, NewWithFS(memfs).DecodeFile("/typo.toml", &s), &pe)
	assert.ErrorAs(t, NewWithFS(memfs).DecodeFile("/typo.yaml", &s), &pe)
}

func TestParseError_Error(t *testing.T) {
	tests := []struct {
		err  *ParseError
		want string
	}{
		{&ParseError{Path: "a.toml", Message: "bad"}, "parse error in a.toml: bad"},
		{&ParseError{Path: "a.toml", Line: 3, Message: "bad"}, "parse error in a.toml at line 3: bad"},
		{&ParseError{Path: "a.toml", Line: 3, Column: 7, Message: "bad"}, "parse error in a.toml at line 3, column 7: bad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}

	inner := errors.New("inner")
	assert.ErrorIs(t, &ParseError{Err: inner}, inner)
}

func TestEncode(t *testing.T) {
	s := settings{Server: server{Name: "edge", Port: 1, Limit: span(time.Second)}}

	out, err := Encode(FormatYAML, s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "limit: 1s")

	out, err = Encode(FormatTOML, s)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "limit = '1s'") || strings.Contains(string(out), `limit = "1s"`), string(out))

	var back settings
	require.NoError(t, Decode(FormatTOML, "roundtrip", out, &back))
	assert.Equal(t, s.Server, back.Server)
}
