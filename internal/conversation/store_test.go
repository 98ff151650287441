package conversation

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "Data", "ChatLog.json"), nil)
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there\nsecond line with \"quotes\""},
		{Role: RoleUser, Content: "ünïcödé ✓"},
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Load() = %#v, want empty non-nil slice", got)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("Load() of a missing log should not create it")
	}
}

func TestStore_LoadHealsCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `[{"role": "user", "content": "hel`},
		{"object", `{"role": "user"}`},
		{"null", `null`},
		{"empty", ``},
		{"whitespace", "  \n"},
		{"garbage", "not json at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			os.MkdirAll(filepath.Dir(s.Path()), 0o755)
			if err := os.WriteFile(s.Path(), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			got, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Load() = %+v, want empty", got)
			}

			data, _ := os.ReadFile(s.Path())
			if strings.TrimSpace(string(data)) != "[]" {
				t.Errorf("healed file = %q, want []", data)
			}
		})
	}
}

func TestStore_SaveNilWritesEmptyArray(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(s.Path())
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("file = %q, want []", data)
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Append(Turn{Role: RoleUser, Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only the log", names)
	}
}

func TestStore_AppendAndReset(t *testing.T) {
	s := newTestStore(t)

	s.Append(Turn{Role: RoleUser, Content: "one"})
	s.Append(Turn{Role: RoleAssistant, Content: "two"})

	got, _ := s.Load()
	if len(got) != 2 || got[1].Content != "two" {
		t.Fatalf("after Append: %+v", got)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load()
	if len(got) != 0 {
		t.Errorf("after Reset: %+v", got)
	}
}

func TestStore_ObservesExternalWrites(t *testing.T) {
	s := newTestStore(t)
	s.Save([]Turn{{Role: RoleUser, Content: "mine"}})

	other := NewStore(s.Path(), nil)
	other.Append(Turn{Role: RoleAssistant, Content: "theirs"})

	got, _ := s.Load()
	if len(got) != 2 {
		t.Errorf("Load() = %+v, want both turns", got)
	}
}

func TestStore_Init(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("log not created: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("initial log = %q", data)
	}

	s.Append(Turn{Role: RoleUser, Content: "keep me"})
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load()
	if len(got) != 1 {
		t.Error("Init() must not clobber an existing log")
	}
}
