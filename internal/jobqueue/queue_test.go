package jobqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "Frontend", "Files", "ImageGeneration.data"), nil)
}

func TestQueue_WriteRead(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"simple", Record{Prompt: "a red fox", Pending: true}},
		{"embedded commas", Record{Prompt: "a,b,c", Pending: true}},
		{"done", Record{Prompt: "sunset, over water", Pending: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			if err := q.Write(tt.rec); err != nil {
				t.Fatalf("Write() error: %v", err)
			}
			got, ok := q.Read()
			if !ok {
				t.Fatal("Read() reported no job")
			}
			if got != tt.rec {
				t.Errorf("Read() = %+v, want %+v", got, tt.rec)
			}
		})
	}
}

func TestQueue_WriteFormat(t *testing.T) {
	q := newTestQueue(t)
	q.Write(Record{Prompt: "a,b,c", Pending: true})

	data, err := os.ReadFile(q.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a,b,c,true" {
		t.Errorf("file = %q, want %q", data, "a,b,c,true")
	}

	entries, _ := os.ReadDir(filepath.Dir(q.Path()))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the control file", len(entries))
	}
}

func TestQueue_ReadNoJob(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{"missing", nil},
		{"empty", ptr("")},
		{"whitespace", ptr("  \n")},
		{"no comma", ptr("onlytext")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			if tt.content != nil {
				os.MkdirAll(filepath.Dir(q.Path()), 0o755)
				os.WriteFile(q.Path(), []byte(*tt.content), 0o644)
			}
			if rec, ok := q.Read(); ok {
				t.Errorf("Read() = %+v, want no job", rec)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		prompt  string
		pending bool
		wantJob bool
	}{
		{"cat,True", "cat", true, true},
		{"cat,TRUE\n", "cat", true, true},
		{"cat,1", "cat", true, true},
		{"cat,Yes", "cat", true, true},
		{"cat,False", "cat", false, true},
		{"cat,0", "cat", false, true},
		{"cat,maybe", "cat", false, true},
		{"cat,", "cat", false, true},
		{" spaced prompt , true ", "spaced prompt", true, true},
		{"a,b,c", "a,b", false, true},
		{"onlytext", "", false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		rec, ok := Parse(tt.in)
		if ok != tt.wantJob {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.wantJob)
			continue
		}
		if rec.Prompt != tt.prompt || rec.Pending != tt.pending {
			t.Errorf("Parse(%q) = %+v, want {%q %v}", tt.in, rec, tt.prompt, tt.pending)
		}
	}
}

func TestQueue_SubmitComplete(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Submit("  "); err == nil {
		t.Error("Submit() of a blank prompt should fail")
	}

	if err := q.Submit("a lighthouse"); err != nil {
		t.Fatal(err)
	}
	rec, _ := q.Read()
	if !rec.Pending || rec.Prompt != "a lighthouse" {
		t.Errorf("after Submit: %+v", rec)
	}

	if err := q.Complete(rec.Prompt); err != nil {
		t.Fatal(err)
	}
	rec, ok := q.Read()
	if !ok || rec.Pending || rec.Prompt != "a lighthouse" {
		t.Errorf("after Complete: %+v ok=%v, want prompt kept and not pending", rec, ok)
	}
}

func TestQueue_Watch(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	signals, err := q.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	// Unrelated files in the same directory must not wake the watcher.
	os.WriteFile(filepath.Join(filepath.Dir(q.Path()), "other.txt"), []byte("x"), 0o644)

	if err := q.Submit("a comet"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-signals:
	case <-time.After(5 * time.Second):
		t.Fatal("no watch signal after Submit")
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-signals:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}
