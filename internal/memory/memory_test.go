package memory

import (
	"fmt"
	"strings"
	"testing"
)

func TestThreadTrimFoldsOldTurns(t *testing.T) {
	th := &Thread{Channel: "telegram", UserID: "u1"}
	for i := 0; i < 130; i++ {
		th.Append(Turn{Role: "user", Content: fmt.Sprintf("message %d", i)})
	}

	th.Trim()
	if len(th.Turns) != threadKeepTurns {
		t.Fatalf("turns after trim = %d, want %d", len(th.Turns), threadKeepTurns)
	}
	if th.Summary == "" {
		t.Fatal("summary should capture trimmed turns")
	}
	if len(th.Summary) > summaryMaxChars {
		t.Fatalf("summary length %d exceeds cap %d", len(th.Summary), summaryMaxChars)
	}
	// The newest turns survive.
	last := th.Turns[len(th.Turns)-1]
	if last.Content != "message 129" {
		t.Fatalf("newest turn lost: %q", last.Content)
	}
}

func TestThreadTrimIdempotent(t *testing.T) {
	th := &Thread{Channel: "c", UserID: "u"}
	for i := 0; i < 130; i++ {
		th.Append(Turn{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	th.Trim()
	turns := len(th.Turns)
	summary := th.Summary

	th.Trim()
	if len(th.Turns) != turns || th.Summary != summary {
		t.Fatal("trimming an already-trimmed thread must be a no-op")
	}
}

func TestThreadBelowCapUntouched(t *testing.T) {
	th := &Thread{Channel: "c", UserID: "u"}
	for i := 0; i < 40; i++ {
		th.Append(Turn{Role: "user", Content: "hi"})
	}
	th.Trim()
	if len(th.Turns) != 40 || th.Summary != "" {
		t.Fatal("threads under the soft cap must not be trimmed")
	}
}

func TestThreadMessagesExcludeSystem(t *testing.T) {
	th := &Thread{Channel: "c", UserID: "u"}
	th.Append(Turn{Role: "system", Content: "old system prompt"})
	th.Append(Turn{Role: "user", Content: "hello"})
	th.Append(Turn{Role: "assistant", Content: "hi"})

	msgs := th.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Role == "system" {
			t.Fatal("system turns must be excluded")
		}
	}
}

func TestFileStoreThreadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	th, err := store.Thread("telegram", "u1")
	if err != nil {
		t.Fatal(err)
	}
	th.Append(Turn{Role: "user", Content: "remember me"})
	th.Append(Turn{Role: "assistant", Content: "noted"})
	if err := store.SaveThread(th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}

	again, err := store.Thread("telegram", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Turns) != 2 || again.Turns[0].Content != "remember me" {
		t.Fatalf("thread did not round trip: %+v", again.Turns)
	}
}

func TestRememberRecall(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Remember("The deploy key lives in the vault", []string{"ops"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := store.Remember("User prefers short answers", nil); err != nil {
		t.Fatal(err)
	}

	hits := store.Recall("deploy vault", 5)
	if len(hits) != 1 || !strings.Contains(hits[0].Content, "deploy key") {
		t.Fatalf("recall = %+v", hits)
	}
	if store.Count() != 2 {
		t.Fatalf("count = %d", store.Count())
	}
	if len(store.Bullets(10)) != 2 {
		t.Fatal("bullets should cover both entries")
	}
}

func TestFileStoreReloadsEntries(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	if _, err := store.Remember("persistent fact", []string{"t1"}); err != nil {
		t.Fatal(err)
	}

	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if store2.Count() != 1 {
		t.Fatalf("reloaded count = %d", store2.Count())
	}
	hits := store2.Recall("persistent", 1)
	if len(hits) != 1 || len(hits[0].Tags) != 1 {
		t.Fatalf("reloaded entry = %+v", hits)
	}
}
