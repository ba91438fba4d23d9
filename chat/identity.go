package chat

type identityKind uint8

const (
	anonymous identityKind = iota
	stable
	handle
)

// Identity is the source identity of an observation. A stable ID is a durable
// identifier supplied by the source; a handle is a surrogate key the producer
// assigns to a transient source object and releases when it discards it. The
// zero Identity is anonymous: every observation counts as a new event.
type Identity struct {
	kind identityKind
	key  string
}

func StableID(id string) Identity {
	if id == "" {
		return Identity{}
	}
	return Identity{kind: stable, key: id}
}

func Handle(h string) Identity {
	if h == "" {
		return Identity{}
	}
	return Identity{kind: handle, key: h}
}

func (i Identity) IsStable() bool    { return i.kind == stable }
func (i Identity) IsHandle() bool    { return i.kind == handle }
func (i Identity) IsAnonymous() bool { return i.kind == anonymous }

// Key is the stable ID or handle surrogate; empty for anonymous identities.
func (i Identity) Key() string { return i.key }

func (i Identity) String() string {
	switch i.kind {
	case stable:
		return "id:" + i.key
	case handle:
		return "handle:" + i.key
	}
	return "anonymous"
}
