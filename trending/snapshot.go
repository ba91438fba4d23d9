package trending

import (
	"strconv"
	"strings"
	"time"

	"github.com/keilerkonzept/chat-trending/chat"
)

// Item is one row of the trending list.
type Item struct {
	// Slot is the 1-based position used for resend requests.
	Slot      int
	Signature string
	Count     int
	LastSeen  time.Time
	// Tokens is the first-seen rendering of the signature.
	Tokens []chat.Token
}

// Text is the plain text of the row, as sent on resend.
func (i Item) Text() string {
	if s := chat.Flatten(i.Tokens); s != "" {
		return s
	}
	return i.Signature
}

// Snapshot is a freshly built ranking. It is never mutated after delivery.
type Snapshot struct {
	At    time.Time
	Items []Item
}

func (s Snapshot) Len() int { return len(s.Items) }

// key serializes the parts of the snapshot a viewer can see change.
func (s Snapshot) key() string {
	var b strings.Builder
	for _, it := range s.Items {
		b.WriteString(it.Signature)
		b.WriteByte(0x1f)
		b.WriteString(strconv.Itoa(it.Count))
		b.WriteByte(0x1e)
	}
	return b.String()
}

// Sink receives every snapshot whose content differs from the one delivered
// before it. Render is called outside the engine lock, one call at a time.
type Sink interface {
	Render(Snapshot)
}

type SinkFunc func(Snapshot)

func (f SinkFunc) Render(s Snapshot) { f(s) }
