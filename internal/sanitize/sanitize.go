// Package sanitize strips tokenizer and control artifacts that some models
// leak into generated text.
package sanitize

import (
	"regexp"
	"strings"
)

// thinkBlock matches a complete reasoning block including its content.
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// controlTokens are removed wherever they appear. Includes the fullwidth
// variants DeepSeek models emit and stray think tags left over when a block
// spans a chunk boundary.
var controlTokens = []string{
	"<|begin_of_sentence|>",
	"<|end_of_sentence|>",
	"<｜begin▁of▁sentence｜>",
	"<｜end▁of▁sentence｜>",
	"<|begin_of_text|>",
	"<|end_of_text|>",
	"<|endoftext|>",
	"<|im_start|>",
	"<|im_end|>",
	"[INST]",
	"[/INST]",
	"<<SYS>>",
	"<</SYS>>",
	"<think>",
	"</think>",
}

// Clean removes control artifacts from model output. When partial is true the
// input is a streaming chunk and boundary whitespace is preserved so that
// concatenated chunks keep their inter-word spacing; when false the result is
// trimmed. Clean is pure and idempotent.
//
// Removal runs to a fixpoint: deleting one token can splice the surrounding
// text into another token (e.g. a marker embedded inside a second marker), so
// a single pass is not enough.
func Clean(text string, partial bool) string {
	s := text
	for {
		next := thinkBlock.ReplaceAllString(s, "")
		for _, tok := range controlTokens {
			next = strings.ReplaceAll(next, tok, "")
		}
		if next == s {
			break
		}
		s = next
	}
	if !partial {
		s = strings.TrimSpace(s)
	}
	return s
}
