// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package version

import (
	"runtime/debug"
	"sync"
	"testing"

	"github.com/petmal/playgroundtester/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

var sourceLock sync.Mutex

func TestName(t *testing.T) {
	assert.Equal(t, "Playground Tester", Name)
	assert.Equal(t, "SEMOSS Playground Testing API", ServiceName)
}

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name   string
		module debug.Module
		want   string
	}{
		{
			name:   "module version",
			module: debug.Module{Version: "v1.2.0"},
			want:   "v1.2.0",
		},
		{
			name:   "no module version",
			module: debug.Module{},
			want:   "(devel)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutils.SyncCall(&sourceLock, func() {
				originalSource := source
				source = func() debug.Module {
					return tt.module
				}
				defer func() { source = originalSource }()
				assert.Equal(t, tt.want, GetVersion())
			})
		})
	}
}

func TestGetSource(t *testing.T) {
	testutils.SyncCall(&sourceLock, func() {
		originalSource := source
		source = func() debug.Module {
			return debug.Module{
				Path: "neat-thread.com/necessary-baggy/unaware-polenta",
			}
		}
		defer func() { source = originalSource }()
		assert.Equal(t, "neat-thread.com/necessary-baggy/unaware-polenta", GetSource())
	})
}
