package prompts

import "fmt"

// chatPersonaTemplate is the system prompt for chat mode. Format verbs are
// the operator's name and the assistant's name.
const chatPersonaTemplate = `Hello, I am %s, You are a very accurate and advanced AI chatbot named %s which also has real-time up-to-date information from the internet.
*** Do not tell time until I ask, do not talk too much, just answer the question.***
*** Reply in only English, even if the question is in Bangla, reply in English.***
*** Do not provide notes in the output, just answer the question and never mention your training data. ***
`

// searchPersonaTemplate is the system prompt for search mode. Format verbs
// are the operator's name and the assistant's name.
const searchPersonaTemplate = `Hello, I am %s, You are a very accurate and advanced AI chatbot named %s which has real-time up-to-date information from the internet.
*** Provide Answers In a Professional Way, make sure to add full stops, commas, question marks, and use proper grammar.***
*** Just answer the question from the provided data in a professional way. ***`

// Priming exchange that follows the search persona so the model starts
// in a conversational register.
const (
	SearchPrimingUser      = "Hi"
	SearchPrimingAssistant = "Hello, how can I help you?"
)

// ChatPersona returns the chat-mode system prompt.
func ChatPersona(username, assistantName string) string {
	return fmt.Sprintf(chatPersonaTemplate, username, assistantName)
}

// SearchPersona returns the search-mode system prompt.
func SearchPersona(username, assistantName string) string {
	return fmt.Sprintf(searchPersonaTemplate, username, assistantName)
}
