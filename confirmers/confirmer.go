// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package confirmers decides whether a model response satisfies the rubric of
// its test case by asking a designated confirmer model for a verdict.
package confirmers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/invopop/jsonschema"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/pkg/utils"
	"github.com/petmal/playgroundtester/providers"
	"github.com/petmal/playgroundtester/providers/execution"
	"github.com/petmal/playgroundtester/registry"
)

const confirmationTestKey = "confirmation"

var (
	// ErrCreateConfirmationPrompt is returned when the confirmation prompt cannot be rendered.
	ErrCreateConfirmationPrompt = errors.New("failed to create confirmation prompt")
	// ErrInvalidVerdict is returned when the confirmer answer is not a valid verdict.
	ErrInvalidVerdict = errors.New("invalid confirmation verdict")
)

// ConfirmerError is a failed confirmation. Kind mirrors the provider error kinds.
type ConfirmerError struct {
	Kind  providers.ErrorKind
	Cause error
}

func (e *ConfirmerError) Error() string {
	return fmt.Sprintf("confirmation failed: %s: %v", e.Kind, e.Cause)
}

func (e *ConfirmerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newConfirmerError(cause error) *ConfirmerError {
	kind := providers.KindOf(cause)
	if errors.Is(cause, ErrInvalidVerdict) {
		kind = providers.Unknown
	}
	return &ConfirmerError{Kind: kind, Cause: cause}
}

// Verdict is the structured answer of the confirmer model.
type Verdict struct {
	// ConfirmationResponse is the rationale of the verdict.
	ConfirmationResponse string `json:"confirmation_response" jsonschema:"title=Confirmation response,description=Short rationale explaining whether the response satisfies the rubric."`
	// Confirmed is true when the response satisfies the rubric.
	Confirmed bool `json:"confirmed" jsonschema:"title=Confirmed,description=True if and only if the response satisfies the rubric."`
}

// VerdictSchema is a lazily initialized JSON schema of the Verdict type.
var VerdictSchema = sync.OnceValue(func() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	schemaBytes, err := json.Marshal(reflector.Reflect(Verdict{}))
	if err != nil {
		panic(fmt.Errorf("%w: %v", utils.ErrInvalidJSONSchema, err))
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		panic(fmt.Errorf("%w: %v", utils.ErrInvalidJSONSchema, err))
	}
	return schemaMap
})

// Confirmer judges responses against test rubrics.
type Confirmer interface {
	// Model returns the confirmer model.
	Model() registry.Entry
	// Confirm asks the confirmer model whether rawResponse satisfies the rubric of test.
	// Failures are returned as *ConfirmerError.
	Confirm(ctx context.Context, logger logging.Logger, test config.TestCase, rawResponse string) (Verdict, error)
}

// judgeConfirmer sends the confirmation request through the same executor used for primary invocations.
type judgeConfirmer struct {
	judge    registry.Entry
	executor *execution.Executor
}

// NewJudgeConfirmer creates a Confirmer backed by the given model and the executor of its provider.
func NewJudgeConfirmer(judge registry.Entry, executor *execution.Executor) Confirmer {
	return &judgeConfirmer{
		judge:    judge,
		executor: executor,
	}
}

func (c *judgeConfirmer) Model() registry.Entry {
	return c.judge
}

func (c *judgeConfirmer) Confirm(ctx context.Context, logger logging.Logger, test config.TestCase, rawResponse string) (verdict Verdict, err error) {
	prompt, err := createConfirmationPrompt(test, rawResponse)
	if err != nil {
		return verdict, newConfirmerError(err)
	}

	confirmation := config.TestCase{
		Key:    confirmationTestKey,
		Kind:   config.KindStructuredOutput,
		Prompt: prompt,
		Context: "You are an automatic grader of language model responses. " +
			"Answer only with the requested JSON verdict.",
		Schema: VerdictSchema(),
	}

	logger.Message(ctx, logging.LevelTrace, "confirmation prompt:\n%s", prompt)
	result, err := c.executor.Execute(ctx, logger, c.judge, confirmation)
	if err != nil {
		return verdict, newConfirmerError(err)
	}

	verdict, err = parseVerdict(result.Text)
	if err != nil {
		return verdict, newConfirmerError(err)
	}
	logger.Message(ctx, logging.LevelDebug, "confirmation verdict: %t", verdict.Confirmed)
	return verdict, nil
}

func parseVerdict(text string) (verdict Verdict, err error) {
	repaired, err := utils.RepairTextJSON(text)
	if err != nil {
		return verdict, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if err := utils.ValidateJSONText(VerdictSchema(), repaired); err != nil {
		return verdict, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
		return verdict, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	verdict.ConfirmationResponse = strings.TrimSpace(verdict.ConfirmationResponse)
	return verdict, nil
}

// kindCriteria describes what a satisfying response looks like for each test kind.
var kindCriteria = map[string]string{
	config.KindText:             "The response answers the prompt correctly and directly.",
	config.KindImageURLs:        "The response describes the content of the referenced image(s); it must not claim the image is unavailable.",
	config.KindImageBase64:      "The response describes the content of the embedded image(s); it must not claim the image is unavailable.",
	config.KindParams:           "The response is a coherent answer to the prompt.",
	config.KindToolCalling:      "The tool was called with correct arguments, or the response reports the tool result that answers the prompt.",
	config.KindStructuredOutput: "The response is JSON conforming to the required schema and its content answers the prompt.",
}

var confirmationPromptTemplate = template.Must(template.New("confirmationPrompt").Parse(`Decide whether the candidate response satisfies the rubric of the test below.

Test kind: {{.Kind}}
Criteria for this kind of test:
{{.Criteria}}

Original prompt:
{{.Prompt}}
{{- if .Tool}}

Tool offered to the model:
{{.Tool.Name}}: {{.Tool.Description}}
Tool parameters schema: {{.ToolParameters}}
{{- end}}
{{- if .Schema}}

Required JSON schema:
{{.Schema}}

Local schema check: {{.SchemaCheck}}
{{- end}}

Rubric:
{{.Rubric}}

Candidate response:
{{.Response}}

Set "confirmed" to true only if the candidate response satisfies the rubric, and explain briefly in "confirmation_response".`))

func createConfirmationPrompt(test config.TestCase, rawResponse string) (string, error) {
	data := struct {
		Kind           string
		Criteria       string
		Prompt         string
		Tool           *config.ToolDefinition
		ToolParameters string
		Schema         string
		SchemaCheck    string
		Rubric         string
		Response       string
	}{
		Kind:     test.Kind,
		Criteria: kindCriteria[test.Kind],
		Prompt:   test.Prompt,
		Tool:     test.Tool,
		Rubric:   test.Rubric,
		Response: rawResponse,
	}

	if test.Tool != nil {
		parameters, err := json.Marshal(test.Tool.Parameters)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCreateConfirmationPrompt, err)
		}
		data.ToolParameters = string(parameters)
	}

	if len(test.Schema) > 0 {
		schema, err := json.Marshal(test.Schema)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCreateConfirmationPrompt, err)
		}
		data.Schema = string(schema)
		data.SchemaCheck = "passed"
		if err := utils.ValidateJSONText(test.Schema, rawResponse); err != nil {
			data.SchemaCheck = "failed: " + err.Error()
		}
	}

	var prompt strings.Builder
	if err := confirmationPromptTemplate.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateConfirmationPrompt, err)
	}
	return prompt.String(), nil
}
