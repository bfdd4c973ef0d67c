package synth

import (
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/executor"
)

const synthesizeSystemPrompt = `Analyze each screen capture of the recording to explain, step by step, the actions the user takes.

For every capture:
1. Look at the visible elements: buttons, links, text fields, menus and anything that changed since the previous capture.
2. Work out which application is in use and what state it is in.
3. Decide which single input action moved the screen to the next capture. Keep the operating system in mind, since interactions such as opening items differ between systems.
4. Describe the result of that action.

Report the steps in the order they happen. Use only the listed action kinds; typing text counts as keyboard_input.`

// videoExplanationSchema is the strict reply shape: an ordered list of
// state/action/outcome triples
func videoExplanationSchema() *ai.Schema {
	kinds := make([]string, len(executor.ActionKinds))
	for i, k := range executor.ActionKinds {
		kinds[i] = string(k)
	}

	return &ai.Schema{
		Name: "video_explanation",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"steps": {
					Type:        jsonschema.Array,
					Description: "A sequence of steps explaining actions taken in the video.",
					Items: &jsonschema.Definition{
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"state_description": {
								Type:        jsonschema.String,
								Description: "A description of the state of the application or software at the time of the action.",
							},
							"action": {
								Type:        jsonschema.String,
								Description: "The specific action performed, such as right click, left click, typing, etc.",
								Enum:        kinds,
							},
							"outcome": {
								Type:        jsonschema.String,
								Description: "The result or consequence of the action taken.",
							},
						},
						Required:             []string{"state_description", "action", "outcome"},
						AdditionalProperties: false,
					},
				},
			},
			Required:             []string{"steps"},
			AdditionalProperties: false,
		},
	}
}

func buildSynthesizePrompt(frameCount int, osName string) string {
	prompt := "These are the key frames of a screen recording, in order."
	if frameCount == 1 {
		prompt = "This is the only key frame of a screen recording."
	}
	if osName != "" {
		prompt += " The recording was made on " + osName + "."
	}
	return prompt
}
