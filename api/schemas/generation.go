// File: api/schemas/generation.go
package schemas

// -- Generation Schemas --

// Image is a prepared, already downscaled image ready to be sent to a model.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// GenerationOptions controls sampling for a single request.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	TopK            int     `json:"top_k"`
	MaxTokens       int     `json:"max_tokens"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest is one prompt, with an optional image, sent to a fresh session.
type GenerationRequest struct {
	Prompt  string            `json:"prompt"`
	Image   *Image            `json:"-"`
	Options GenerationOptions `json:"options"`
}

// FragmentFunc receives streamed text in generation order. The final call has
// done set to true and carries no text.
type FragmentFunc func(text string, done bool)
