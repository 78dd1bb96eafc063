// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package testutils provides helpers shared by the package tests: temporary files,
// serialized calls and canned HTTP backends.
package testutils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// SyncCall executes the provided function while holding the specified mutex lock.
func SyncCall(lock *sync.Mutex, fn func()) {
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// CreateMockFile creates a temporary file with the given name pattern and contents,
// returning the file path.
func CreateMockFile(t *testing.T, namePattern string, contents []byte) string {
	fp, err := os.CreateTemp("", namePattern)
	if err != nil {
		t.Fatalf("failed to create test file: %v\n", err)
	}
	defer fp.Close()

	if _, err := fp.Write(contents); err != nil {
		t.Fatalf("failed to write test file: %v\n", err)
	}
	t.Cleanup(func() { _ = os.Remove(fp.Name()) })

	return fp.Name()
}

// AssertContainsAll verifies that contents contains every element.
func AssertContainsAll(t *testing.T, contents string, elements []string) {
	for i := range elements {
		assert.Contains(t, contents, elements[i])
	}
}

// Ptr returns a pointer to the given value.
func Ptr[T any](value T) *T {
	return &value
}

// MockHTTPResponse defines a canned HTTP response.
type MockHTTPResponse struct {
	StatusCode int
	Content    []byte
	Delay      time.Duration
	// Respond, when set, computes the response from the request and takes precedence
	// over StatusCode and Content.
	Respond func(r *http.Request) (int, []byte)
}

// CreateMockServer creates a test HTTP server answering each path with its configured
// response and 404 for anything else. The server is closed when the test ends.
func CreateMockServer(t *testing.T, responses map[string]MockHTTPResponse) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if response.Delay > 0 {
			select {
			case <-time.After(response.Delay):
			case <-r.Context().Done():
				return
			}
		}
		status, content := response.StatusCode, response.Content
		if response.Respond != nil {
			status, content = response.Respond(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if content != nil {
			if _, err := w.Write(content); err != nil {
				t.Errorf("failed to write mock response: %v", err)
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}
