// Package bettershare keeps the user's share-link preferences: which mirror
// domain each supported site's links are rewritten to.
//
// A Store owns one versioned preferences record in a key-value backend (see
// package kv), caches it after the first load, and notifies listeners when the
// record changes in storage, whether by this process or another one.
//
// Key features:
//   - Defaults are written back when storage holds nothing usable
//   - Concurrent first loads share a single storage read
//   - Any kv.Backend can be used: memory, file, SQLite, OS keyring, AWS
//
// Example:
//
//	backend, _ := file.New("~/.config/bettershare/storage.json")
//	store, _ := bettershare.New(backend, backend)
//	defer store.Close()
//
//	prefs, _ := store.LoadPreferences(ctx)
//	link, _ := rewrite.ShareableURL("https://www.reddit.com/r/golang/comments/1", prefs)
package bettershare
