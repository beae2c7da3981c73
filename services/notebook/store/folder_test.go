// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFolderStore_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFolderStore(root, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), "notes", sampleNotebook(t, "1")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "stray temp file %s", e.Name())
	}
}

func TestFolderStore_WatchReportsExternalWrites(t *testing.T) {
	root := t.TempDir()
	s, err := NewFolderStore(root, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), "mine", sampleNotebook(t, "1")))

	events := make(chan string, 8)
	require.NoError(t, s.Watch(func(path string) { events <- path }))

	// A save through the store must not be reported back to us.
	require.NoError(t, s.Save(context.Background(), "mine", sampleNotebook(t, "2")))
	select {
	case path := <-events:
		t.Fatalf("own save reported as external: %s", path)
	case <-time.After(300 * time.Millisecond):
	}

	// A write by another process is.
	external := filepath.Join(root, "theirs"+fileExt)
	require.NoError(t, os.WriteFile(external, []byte("{}"), 0640))
	select {
	case path := <-events:
		require.Equal(t, "theirs", path)
	case <-time.After(3 * time.Second):
		t.Fatal("external write never reported")
	}
}

func TestFolderStore_WatchCoversNestedFolders(t *testing.T) {
	root := t.TempDir()
	s, err := NewFolderStore(root, nil)
	require.NoError(t, err)
	defer s.Close()

	// "physics/week1" puts a subdirectory on disk before the watch starts.
	require.NoError(t, s.Save(context.Background(), "physics/week1", sampleNotebook(t, "1")))

	events := make(chan string, 8)
	require.NoError(t, s.Watch(func(path string) { events <- path }))

	external := filepath.Join(root, "physics", "week2"+fileExt)
	require.NoError(t, os.WriteFile(external, []byte("{}"), 0640))
	select {
	case path := <-events:
		require.Equal(t, "physics/week2", path)
	case <-time.After(3 * time.Second):
		t.Fatal("write in an existing subfolder never reported")
	}

	// Folders created while the watch is running are picked up too.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "algebra"), 0750))
	time.Sleep(250 * time.Millisecond)
	late := filepath.Join(root, "algebra", "notes"+fileExt)
	require.NoError(t, os.WriteFile(late, []byte("{}"), 0640))
	select {
	case path := <-events:
		require.Equal(t, "algebra/notes", path)
	case <-time.After(3 * time.Second):
		t.Fatal("write in a new subfolder never reported")
	}
}
