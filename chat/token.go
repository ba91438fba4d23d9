// Package chat holds the message model shared by event producers and the
// trending engine: ordered tokens, source identities and the normalizer that
// turns a message into its aggregation key.
package chat

import "strings"

// Kind tags a Token as plain text or an inline emote.
type Kind uint8

const (
	KindText Kind = iota
	KindEmote
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEmote:
		return "emote"
	}
	return "unknown"
}

// Token is one ordered piece of a message. Text tokens use Content; emote
// tokens use Alt (the text shown in place of the image) and Image.
type Token struct {
	Kind    Kind
	Content string
	Alt     string
	Image   string
}

func Text(content string) Token {
	return Token{Kind: KindText, Content: content}
}

func Emote(alt, image string) Token {
	return Token{Kind: KindEmote, Alt: alt, Image: image}
}

// String returns the plain text rendering of the token.
func (t Token) String() string {
	if t.Kind == KindEmote {
		return t.Alt
	}
	return t.Content
}

// Flatten renders tokens as plain text: emotes become their alt text and the
// non-empty parts are joined with single spaces, preserving order.
func Flatten(tokens []Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		s := strings.TrimSpace(t.String())
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// Signature is the aggregation key of a token sequence.
func Signature(tokens []Token) string {
	return Normalize(Flatten(tokens))
}

// Clone returns a copy of tokens that does not share the backing array.
func Clone(tokens []Token) []Token {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]Token, len(tokens))
	copy(out, tokens)
	return out
}
