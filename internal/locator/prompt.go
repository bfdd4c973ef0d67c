package locator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/v0xg/screenplay/internal/ai"
)

const locateSystemPrompt = `You are Screen Helper, a reasoning engine that helps users select the correct element on a computer screen to complete a task.

A task is decomposed into steps, each of which requires selecting one element on the screen. Your role is to select the best screen element for the current step. Other models handle the rest of the task.

You receive the current screen and the current step's objective with some context about the screen state. When the screen has been annotated, every detected element carries a numbered label; choose among those ids and do not invent new ones.

Report how confident you are that the element you chose fulfils the objective, as a number between 0.0 and 1.0. If the step requires typing, put the exact text in text_input, otherwise leave it empty.`

// element mode: the model picks one of the annotated ids
func elementSchema() *ai.Schema {
	return &ai.Schema{
		Name: "element_information",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"element_id": {
					Type:        jsonschema.Number,
					Description: "ID that describes the object to be interacted with",
				},
				"text_input":              textInputDef,
				"confidence":              confidenceDef,
				"element_description":     descriptionDef,
				"hover_feedback_expected": hoverDef,
			},
			Required:             []string{"text_input", "confidence", "element_description", "hover_feedback_expected", "element_id"},
			AdditionalProperties: false,
		},
	}
}

// coordinate mode: no annotation is available, the model answers in pixels
func coordinateSchema() *ai.Schema {
	return &ai.Schema{
		Name: "element_coordinates",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"coordinates": {
					Type:        jsonschema.Object,
					Description: "Center of the element in screenshot pixels",
					Properties: map[string]jsonschema.Definition{
						"x": {Type: jsonschema.Number},
						"y": {Type: jsonschema.Number},
					},
					Required:             []string{"x", "y"},
					AdditionalProperties: false,
				},
				"text_input":              textInputDef,
				"confidence":              confidenceDef,
				"element_description":     descriptionDef,
				"hover_feedback_expected": hoverDef,
			},
			Required:             []string{"text_input", "confidence", "element_description", "hover_feedback_expected", "coordinates"},
			AdditionalProperties: false,
		},
	}
}

var (
	textInputDef   = jsonschema.Definition{Type: jsonschema.String, Description: "Text to type if needed"}
	confidenceDef  = jsonschema.Definition{Type: jsonschema.Number, Description: "0.0 to 1.0"}
	descriptionDef = jsonschema.Definition{
		Type:        jsonschema.String,
		Description: "Detailed description of what you found and why you're confident it's correct",
	}
	hoverDef = jsonschema.Definition{
		Type:        jsonschema.String,
		Description: "Description of expected visual feedback during hover (tooltip, highlight, etc.)",
	}
)

func buildElementPrompt(target, context string, ann *Annotation) string {
	coords := make(map[string][4]float64, len(ann.Boxes))
	for id, b := range ann.Boxes {
		coords[fmt.Sprint(id)] = [4]float64{b.X, b.Y, b.W, b.H}
	}
	coordsJSON, _ := json.Marshal(coords)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Find the exact element for this objective: %s\n", target)
	fmt.Fprintf(&sb, "Context: %s\n", context)
	fmt.Fprintf(&sb, "Element boxes [x, y, w, h] by id: %s\n", coordsJSON)
	fmt.Fprintf(&sb, "Valid element ids: %v\n", ann.IDs())
	if len(ann.Content) > 0 {
		sb.WriteString("Element contents:\n")
		for _, c := range ann.Content {
			sb.WriteString("- " + c + "\n")
		}
	}
	return sb.String()
}

func buildCoordinatePrompt(target, context string, width, height int) string {
	return fmt.Sprintf("Find the exact coordinates of this element: %s\nContext: %s\nThe screenshot is %dx%d pixels; answer with the element's center.",
		target, context, width, height)
}
