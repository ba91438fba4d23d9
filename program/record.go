package main

import (
	"github.com/keilerkonzept/chat-trending/chat"
)

// record is one JSON input line, as produced by the file, MQTT and
// WebSocket sources.
type record struct {
	Channel string        `json:"channel,omitempty"`
	ID      string        `json:"id,omitempty"`
	Handle  string        `json:"handle,omitempty"`
	Text    string        `json:"text,omitempty"`
	Tokens  []recordToken `json:"tokens,omitempty"`
	Release string        `json:"release,omitempty"`
}

type recordToken struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Alt     string `json:"alt,omitempty"`
	Src     string `json:"src,omitempty"`
}

func (r record) identity() chat.Identity {
	if r.ID != "" {
		return chat.StableID(r.ID)
	}
	return chat.Handle(r.Handle)
}

// tokens prefers the token list; text is the shorthand for a single text
// token. Tokens of unknown kind are dropped.
func (r record) tokens() []chat.Token {
	if len(r.Tokens) == 0 {
		if r.Text == "" {
			return nil
		}
		return []chat.Token{chat.Text(r.Text)}
	}
	out := make([]chat.Token, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		switch t.Kind {
		case "text", "":
			out = append(out, chat.Text(t.Content))
		case "emote":
			out = append(out, chat.Emote(t.Alt, t.Src))
		}
	}
	return out
}

// hasMessage reports whether r carries a message; release-only and
// channel-only records do not.
func (r record) hasMessage() bool {
	return r.Text != "" || len(r.Tokens) > 0
}
