package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreyvit/localbase"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		input string
		field string
		value any
	}{
		{"user_id=u1", "user_id", "u1"},
		{"views=42", "views", 42.0},
		{"public=true", "public", true},
		{"title=\"quoted\"", "title", "quoted"},
		{"deleted_at=null", "deleted_at", nil},
		{"expr=a=b", "expr", "a=b"},
		{"empty=", "empty", ""},
	}
	for _, tt := range tests {
		field, value, err := parseCondition(tt.input)
		if err != nil {
			t.Errorf("parseCondition(%q) failed: %v", tt.input, err)
			continue
		}
		if field != tt.field || !deepEq(t, value, tt.value) {
			t.Errorf("parseCondition(%q) = %q, %v", tt.input, field, value)
		}
	}

	for _, input := range []string{"novalue", "=x"} {
		if _, _, err := parseCondition(input); err == nil {
			t.Errorf("parseCondition(%q) succeeded, expected error", input)
		}
	}
}

func TestParseRows(t *testing.T) {
	rows, err := parseRows(`{"title":"a"}`)
	if err != nil {
		t.Fatal(err)
	}
	deepEq(t, rows, []localbase.Record{{"title": "a"}})

	rows, err = parseRows(` [{"title":"a"},{"title":"b"}]`)
	if err != nil {
		t.Fatal(err)
	}
	deepEq(t, len(rows), 2)

	for _, input := range []string{"null", "42", "{", `"str"`} {
		if _, err := parseRows(input); err == nil {
			t.Errorf("parseRows(%q) succeeded, expected error", input)
		}
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("localbase %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCLI_endToEnd(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--config", filepath.Join(dir, "none.yaml"), "--db", filepath.Join(dir, "test.db"), "--log-level", "warn"}
	cli := func(args ...string) string {
		return run(t, append(args, common...)...)
	}

	var inserted localbase.Result
	if err := json.Unmarshal([]byte(cli("insert", "videos", `[{"title":"a","user_id":"u1"},{"title":"b","user_id":"u2"}]`)), &inserted); err != nil {
		t.Fatal(err)
	}
	deepEq(t, inserted.Count, 2)

	var selected localbase.Result
	if err := json.Unmarshal([]byte(cli("select", "videos", "--eq", "user_id=u2")), &selected); err != nil {
		t.Fatal(err)
	}
	deepEq(t, selected.Count, 1)
	deepEq(t, selected.Data[0].String("title"), "b")

	if out := cli("tables"); !strings.HasPrefix(out, "videos") {
		t.Errorf("tables printed %q", out)
	}

	deepEq(t, strings.TrimSpace(cli("session")), "not signed in")
	var sess localbase.Session
	if err := json.Unmarshal([]byte(cli("signin", "github")), &sess); err != nil {
		t.Fatal(err)
	}
	deepEq(t, sess.User.ID, localbase.DemoUserID)

	if out := cli("public-url", "videos", "x.mp4"); strings.TrimSpace(out) != localbase.PlaceholderMediaURL {
		t.Errorf("public-url printed %q", out)
	}
}
