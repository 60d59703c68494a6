package access

import "time"

// Subject is a principal together with the roles it holds.
type Subject struct {
	Principal string
	Roles     []string
}

// Policy maps RFP role ids to the level members of that role get on every
// document of the RFP by default.
type Policy map[string]Level

// Latest reduces grants to one record per grantee using last-writer-wins.
func Latest(grants []Grant) []Grant {
	byKey := make(map[string]int, len(grants))
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		k := g.Grantee.Key()
		if i, ok := byKey[k]; ok {
			if g.Supersedes(out[i]) {
				out[i] = g
			}
			continue
		}
		byKey[k] = len(out)
		out = append(out, g)
	}
	return out
}

// Resolve returns the effective level of subject given the document's
// grants and the RFP default policy. The result is the highest level over
// explicit user grants, role grants and the policy. A None record only
// overrides the grant it replaced for the same grantee; expired records are
// ignored.
func Resolve(subject Subject, grants []Grant, policy Policy, now time.Time) Level {
	roles := make(map[string]struct{}, len(subject.Roles))
	for _, r := range subject.Roles {
		roles[r] = struct{}{}
	}

	effective := None
	for _, g := range Latest(grants) {
		if !g.Active(now) || !matches(g.Grantee, subject.Principal, roles) {
			continue
		}
		if g.Level > effective {
			effective = g.Level
		}
	}
	for r := range roles {
		if l := policy[r]; l > effective {
			effective = l
		}
	}
	return effective
}

func matches(g Grantee, principal string, roles map[string]struct{}) bool {
	switch g.Kind {
	case KindUser:
		return g.ID == principal
	case KindRole:
		_, ok := roles[g.ID]
		return ok
	default:
		return false
	}
}

// Closure is the set of users and roles that can view a document, computed
// at index time. It is a pre-filter only: membership never authorizes.
type Closure struct {
	Users map[string]struct{}
	Roles map[string]struct{}
}

// VisibilityClosure collects every grantee whose active grant or policy
// entry reaches View.
func VisibilityClosure(grants []Grant, policy Policy, now time.Time) Closure {
	c := Closure{Users: map[string]struct{}{}, Roles: map[string]struct{}{}}
	for _, g := range Latest(grants) {
		if !g.Active(now) || g.Level < View {
			continue
		}
		switch g.Grantee.Kind {
		case KindUser:
			c.Users[g.Grantee.ID] = struct{}{}
		case KindRole:
			c.Roles[g.Grantee.ID] = struct{}{}
		}
	}
	for r, l := range policy {
		if l >= View {
			c.Roles[r] = struct{}{}
		}
	}
	return c
}

// Admits reports whether subject passes the pre-filter.
func (c Closure) Admits(subject Subject) bool {
	if _, ok := c.Users[subject.Principal]; ok {
		return true
	}
	for _, r := range subject.Roles {
		if _, ok := c.Roles[r]; ok {
			return true
		}
	}
	return false
}
