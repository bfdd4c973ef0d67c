package ai

const schemaInstruction = `Respond ONLY with a JSON object that satisfies this JSON schema, no explanation or markdown:
%s`

const verifySystemPrompt = `You are a computer vision system that verifies UI states. Return ONLY 'true' or 'false'.`

// buildVerifyPrompt asks whether the screenshot shows the expected outcome
func buildVerifyPrompt(expected string) string {
	return "Does this screenshot show the following outcome: " + expected + "?"
}
