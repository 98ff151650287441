package prompts

import "fmt"

// ModelErrorFallback is returned by search mode when the configured model
// is unknown or retired. The fix is a config change, so say where.
const ModelErrorFallback = "Model error: the selected model appears decommissioned or invalid. Please set a supported model in your config as models.search (for example 'llama-3.3-70b-versatile')."

// ChatErrorFallback is the answer chat mode returns when the model call
// fails.
func ChatErrorFallback(err error) string {
	return fmt.Sprintf("Internal error contacting model: %v", err)
}

// SearchErrorFallback is the answer search mode returns when the model
// call fails for a reason other than the model itself.
func SearchErrorFallback(err error) string {
	return fmt.Sprintf("Internal error: %v", err)
}
