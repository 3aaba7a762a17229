package policy

import (
	"fmt"
	"strings"

	"unison-context/internal/domain"
)

// AdminAll is the scope that satisfies every consent check.
const AdminAll = "admin.all"

// Access is the capability a scope grants on a kind.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// anyPerson matches every target person.
const anyPerson = "*"

// Scope is one consent grant, written as <kind>.<read|write>[@<person|*>].
type Scope struct {
	Admin  bool
	Kind   domain.Kind
	Access Access
	// Person is the target the grant covers; "*" covers everyone.
	Person string
}

// ParseScope parses the text form of a scope.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, AdminAll) {
		return Scope{Admin: true, Person: anyPerson}, nil
	}

	body, person, hasPerson := strings.Cut(s, "@")
	if !hasPerson {
		person = anyPerson
	} else if person == "" {
		return Scope{}, fmt.Errorf("policy: scope %q has an empty person", s)
	}

	kind, access, ok := strings.Cut(body, ".")
	if !ok {
		return Scope{}, fmt.Errorf("policy: scope %q is not <kind>.<access>", s)
	}
	k := domain.Kind(strings.ToLower(kind))
	if !k.Valid() {
		return Scope{}, fmt.Errorf("policy: scope %q names unknown kind %q", s, kind)
	}
	a := Access(strings.ToLower(access))
	if a != AccessRead && a != AccessWrite {
		return Scope{}, fmt.Errorf("policy: scope %q names unknown access %q", s, access)
	}
	return Scope{Kind: k, Access: a, Person: person}, nil
}

// ParseScopes parses a comma-separated scope list, skipping blanks.
func ParseScopes(list string) ([]Scope, error) {
	var scopes []Scope
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sc, err := ParseScope(part)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, nil
}

// String renders the scope in its text form.
func (s Scope) String() string {
	if s.Admin {
		return AdminAll
	}
	out := string(s.Kind) + "." + string(s.Access)
	if s.Person != "" && s.Person != anyPerson {
		out += "@" + s.Person
	}
	return out
}

// covers reports whether s grants access on kind for target.
func (s Scope) covers(kind domain.Kind, access Access, target string) bool {
	if s.Admin {
		return true
	}
	if s.Kind != kind || s.Access != access {
		return false
	}
	return s.Person == anyPerson || s.Person == "" || s.Person == target
}
