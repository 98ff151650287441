package prompts

// imageQualitySuffix is appended to every text-to-image prompt.
const imageQualitySuffix = ", quality = 4K, sharpness=maximum, Ultra High details, high resolution"

// EnhanceImagePrompt returns the prompt sent to the image model for a
// user's request.
func EnhanceImagePrompt(prompt string) string {
	return prompt + imageQualitySuffix
}
