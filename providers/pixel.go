// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petmal/playgroundtester/pkg/utils"
)

// CreateRoomPixel opens a new playground room.
const CreateRoomPixel = "CreateRoom()"

// AskPlayground describes an AskPlayground pixel.
type AskPlayground struct {
	RoomID       string
	ModelID      string
	Prompt       string
	Context      string
	ImageURLs    []string
	ImagesBase64 []string
	MCPToolID    string
	ParamValues  map[string]interface{}
}

// String renders the pixel. Optional arguments are emitted only when set, in a fixed order.
func (a AskPlayground) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `AskPlayground(roomId=["%s"], engine=["%s"], command=["<encode>%s</encode>"]`, a.RoomID, a.ModelID, a.Prompt)
	if a.Context != "" {
		fmt.Fprintf(&sb, `, context=["<encode>%s</encode>"]`, a.Context)
	}
	if len(a.ImageURLs) > 0 {
		fmt.Fprintf(&sb, `, url=["%s"]`, strings.Join(a.ImageURLs, `","`))
	}
	if len(a.ImagesBase64) > 0 {
		fmt.Fprintf(&sb, `, image=["%s"]`, strings.Join(a.ImagesBase64, `","`))
	}
	if a.MCPToolID != "" {
		fmt.Fprintf(&sb, `, mcpToolID=["%s"]`, a.MCPToolID)
	}
	if len(a.ParamValues) > 0 {
		fmt.Fprintf(&sb, `, paramValues=[%s]`, renderMap(a.ParamValues))
	}
	sb.WriteString(")")
	return sb.String()
}

// RunMCPToolPixel renders a pixel executing function of the MCP project with the given JSON arguments.
func RunMCPToolPixel(project string, function string, arguments string) string {
	return fmt.Sprintf(`RunMCPTool(project=["%s"], function=["%s"], paramValues=[%s])`, project, function, jsonOrEmptyObject(arguments))
}

// AddToolExecutionPixel renders a pixel feeding a tool execution result back to the model.
func AddToolExecutionPixel(modelID string, roomID string, toolID string, toolName string, response string) string {
	return fmt.Sprintf(`AddToolExecution(engine=["%s"], roomId=["%s"], toolId=["%s"], toolName=["%s"], tool_execution_response=[%s])`,
		modelID, roomID, toolID, toolName, response)
}

// renderMap renders a JSON object with keys in sorted order.
func renderMap(values map[string]interface{}) string {
	parts := make([]string, 0, len(values))
	for _, key := range utils.SortedKeys(values) {
		value, err := json.Marshal(values[key])
		if err != nil {
			value = []byte("null")
		}
		parts = append(parts, fmt.Sprintf(`"%s": %s`, key, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func jsonOrEmptyObject(value string) string {
	if !json.Valid([]byte(value)) || strings.TrimSpace(value) == "" {
		return "{}"
	}
	return value
}
