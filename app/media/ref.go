package media

type RefKind int

const (
	LocalRef RefKind = iota
	RemoteRef
)

// Ref is a produced image: either a file on local disk or an unmodified
// remote URL kept as-is.
type Ref struct {
	kind  RefKind
	value string
}

func Local(path string) Ref {
	return Ref{kind: LocalRef, value: path}
}

func Remote(url string) Ref {
	return Ref{kind: RemoteRef, value: url}
}

func (r Ref) Kind() RefKind {
	return r.kind
}

func (r Ref) IsLocal() bool {
	return r.kind == LocalRef
}

// Path is the local file path, empty for remote refs.
func (r Ref) Path() string {
	if r.kind != LocalRef {
		return ""
	}
	return r.value
}

// URL is the remote URL, empty for local refs.
func (r Ref) URL() string {
	if r.kind != RemoteRef {
		return ""
	}
	return r.value
}

func (r Ref) String() string {
	return r.value
}
