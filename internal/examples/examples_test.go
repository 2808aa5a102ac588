package examples

import (
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestLoadFS_SortedJSONOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"b.json":     {Data: []byte(`{"name":"b"}`)},
		"a.JSON":     {Data: []byte(`{"name":"a"}`)},
		"notes.txt":  {Data: []byte("ignore me")},
		"sub/c.json": {Data: []byte(`{}`)},
	}
	got, err := LoadFS(fsys)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if len(got) != 2 || string(got[0]) != `{"name":"a"}` || string(got[1]) != `{"name":"b"}` {
		t.Fatalf("examples=%s", got)
	}
}

func TestLoadFS_InvalidJSON(t *testing.T) {
	if _, err := LoadFS(fstest.MapFS{"x.json": {Data: []byte("{")}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_MissingDir(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got=%v err=%v", got, err)
	}
}
