package domain

// Kind names a family of records held for a person.
type Kind string

const (
	KindProfile   Kind = "profile"
	KindSession   Kind = "session"
	KindDashboard Kind = "dashboard"
	KindKV        Kind = "kv"
)

// Kinds lists every record kind the store understands.
var Kinds = []Kind{KindProfile, KindSession, KindDashboard, KindKV}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProfile, KindSession, KindDashboard, KindKV:
		return true
	}
	return false
}

// Operation is the access requested on a record.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)
