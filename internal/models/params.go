package models

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/utils"
)

// buildOpenAIParams converts an ADK request into chat completion parameters.
// The system instruction becomes the leading system message.
func buildOpenAIParams(req *model.LLMRequest, defaultModel string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{Model: req.Model}
	if req.Model == "" {
		params.Model = defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Config != nil {
		if system := strings.TrimSpace(utils.ExtractContentText(req.Config.SystemInstruction)); system != "" {
			messages = append(messages, openai.SystemMessage(system))
		}
	}
	messages = append(messages, convertContents(req.Contents)...)
	if len(messages) == 0 || !endsWithUser(req.Contents) {
		messages = append(messages, openai.UserMessage("Continue the conversation as instructed."))
	}
	params.Messages = messages

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			params.Temperature = openai.Float(float64(*cfg.Temperature))
		}
		if cfg.TopP != nil {
			params.TopP = openai.Float(float64(*cfg.TopP))
		}
		if cfg.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(cfg.MaxOutputTokens))
		}
		if tools := convertTools(cfg.Tools); len(tools) > 0 {
			params.Tools = tools
		}
	}
	return params
}

func endsWithUser(contents []*genai.Content) bool {
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i] == nil {
			continue
		}
		return contents[i].Role == string(genai.RoleUser)
	}
	return false
}

func convertTools(tools []*genai.Tool) []openai.ChatCompletionToolUnionParam {
	var out []openai.ChatCompletionToolUnionParam
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, fn := range t.FunctionDeclarations {
			out = append(out, openai.ChatCompletionToolUnionParam{
				OfFunction: &openai.ChatCompletionFunctionToolParam{
					Function: openai.FunctionDefinitionParam{
						Name:        fn.Name,
						Description: openai.String(fn.Description),
						Parameters:  functionParameters(fn),
					},
				},
			})
		}
	}
	return out
}

// functionParameters renders the declaration's JSON schema as a plain map.
func functionParameters(fn *genai.FunctionDeclaration) openai.FunctionParameters {
	switch schema := fn.ParametersJsonSchema.(type) {
	case *jsonschema.Schema:
		if schema == nil {
			return nil
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			slog.Error("failed to marshal tool schema", "tool", fn.Name, "error", err.Error())
			return nil
		}
		params := make(map[string]any)
		if err := json.Unmarshal(raw, &params); err != nil {
			slog.Error("failed to decode tool schema", "tool", fn.Name, "error", err.Error())
			return nil
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}
		return openai.FunctionParameters(params)
	case map[string]any:
		return openai.FunctionParameters(schema)
	default:
		return nil
	}
}

func convertContents(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, content := range contents {
		if content == nil {
			continue
		}

		var toolResults []openai.ChatCompletionMessageParamUnion
		for _, part := range content.Parts {
			if part == nil || part.FunctionResponse == nil || part.FunctionResponse.ID == "" {
				continue
			}
			payload, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				slog.Error("failed to marshal function response", "error", err.Error())
				continue
			}
			toolResults = append(toolResults, openai.ToolMessage(string(payload), part.FunctionResponse.ID))
		}
		if len(toolResults) > 0 {
			messages = append(messages, toolResults...)
			continue
		}

		text := utils.ExtractContentText(content)
		if text == "" {
			continue
		}
		switch content.Role {
		case string(genai.RoleModel):
			messages = append(messages, openai.AssistantMessage(text))
		case "system":
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages
}
