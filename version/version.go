// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package version provides information about the application including its name, version, and source code repository.
package version

import (
	"runtime/debug"
	"sync"
)

// Name of the application.
const Name string = "Playground Tester"

// ServiceName is the name reported by the HTTP service.
const ServiceName string = "SEMOSS Playground Testing API"

const develVersion = "(devel)"

var source = sync.OnceValue(func() debug.Module {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main
	}
	return debug.Module{}
})

// GetVersion returns the version of the application, or "(devel)" for builds without module version.
func GetVersion() string {
	if v := source().Version; v != "" {
		return v
	}
	return develVersion
}

// GetSource returns the source path of the main package.
func GetSource() string {
	return source().Path
}
