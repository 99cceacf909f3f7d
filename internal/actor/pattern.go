// Package actor implements the node-local actor core: typed-pattern
// mailboxes, the cooperative run/pause/resume/stop lifecycle, and
// parent/child supervision.
package actor

import (
	"fmt"
	"reflect"
)

// Tuple is the wire shape messages and patterns are built from. A literal
// Go value that is not a Tuple is matched by equality.
type Tuple []interface{}

// Pattern matches a subject and, on success, yields an ordered list of
// captured values.
type Pattern interface {
	match(subject interface{}) (bool, []interface{})
}

// Match evaluates pattern against subject. It mirrors the flattened return
// shape used throughout the mailbox: when captures is non-empty the caller
// typically wants (ok, captures...); Match returns them separately so Go
// callers can decide.
func Match(pattern Pattern, subject interface{}) (bool, []interface{}) {
	if pattern == nil {
		ok := subject == nil
		return ok, nil
	}
	return pattern.match(subject)
}

// Eq matches subjects equal to v. Plain Go values passed where a Pattern is
// expected should be wrapped with Eq; literals are never auto-boxed because
// Go has no implicit interface conversion that would let us tell a literal
// from a Pattern at the call site.
type eqPattern struct{ v interface{} }

func Eq(v interface{}) Pattern { return eqPattern{v} }

func (p eqPattern) match(subject interface{}) (bool, []interface{}) {
	return reflect.DeepEqual(p.v, subject), nil
}

// anyPattern matches and captures any subject.
type anyPattern struct{ ignore bool }

// Any matches any subject and captures it.
var Any Pattern = anyPattern{}

func (p anyPattern) match(subject interface{}) (bool, []interface{}) {
	if p.ignore {
		return true, nil
	}
	return true, []interface{}{subject}
}

// Ignore wraps a Pattern and suppresses its capture without changing
// whether it matches.
func Ignore(p Pattern) Pattern {
	switch v := p.(type) {
	case anyPattern:
		return anyPattern{ignore: true}
	case isInstancePattern:
		v.ignore = true
		return v
	case matchFnPattern:
		v.ignore = true
		return v
	default:
		return ignoreWrapper{p}
	}
}

type ignoreWrapper struct{ inner Pattern }

func (p ignoreWrapper) match(subject interface{}) (bool, []interface{}) {
	ok, _ := p.inner.match(subject)
	return ok, nil
}

// IsInstance matches when the subject's concrete type is assignable to
// sample's type, and captures the subject.
type isInstancePattern struct {
	t      reflect.Type
	ignore bool
}

func IsInstance(sample interface{}) Pattern {
	return isInstancePattern{t: reflect.TypeOf(sample)}
}

func (p isInstancePattern) match(subject interface{}) (bool, []interface{}) {
	if subject == nil {
		return false, nil
	}
	ok := reflect.TypeOf(subject).AssignableTo(p.t)
	if !ok {
		return false, nil
	}
	if p.ignore {
		return true, nil
	}
	return true, []interface{}{subject}
}

// MatchFn matches when fn(subject) is true, and captures the subject.
type matchFnPattern struct {
	fn     func(interface{}) bool
	ignore bool
}

func MatchFn(fn func(interface{}) bool) Pattern { return matchFnPattern{fn: fn} }

func (p matchFnPattern) match(subject interface{}) (bool, []interface{}) {
	if !p.fn(subject) {
		return false, nil
	}
	if p.ignore {
		return true, nil
	}
	return true, []interface{}{subject}
}

// Not matches when the wrapped pattern does not; it captures nothing.
type notPattern struct{ inner Pattern }

func Not(p Pattern) Pattern { return notPattern{p} }

func (p notPattern) match(subject interface{}) (bool, []interface{}) {
	ok, _ := p.inner.match(subject)
	return !ok, nil
}

// If matches when cond() is true and the wrapped pattern matches; it
// forwards the wrapped pattern's captures.
type ifPattern struct {
	cond func() bool
	p    Pattern
}

func If(cond func() bool, p Pattern) Pattern { return ifPattern{cond, p} }

func (p ifPattern) match(subject interface{}) (bool, []interface{}) {
	if !p.cond() {
		return false, nil
	}
	return p.p.match(subject)
}

// TuplePattern matches a Tuple subject of the same length, positionally.
type tuplePattern struct{ subs []Pattern }

func TuplePattern(subs ...Pattern) Pattern { return tuplePattern{subs} }

func (p tuplePattern) match(subject interface{}) (bool, []interface{}) {
	t, ok := subject.(Tuple)
	if !ok || len(t) != len(p.subs) {
		return false, nil
	}
	var captures []interface{}
	for i, sub := range p.subs {
		ok, subcaps := sub.match(t[i])
		if !ok {
			return false, nil
		}
		captures = append(captures, subcaps...)
	}
	return true, captures
}

func (t Tuple) String() string {
	return fmt.Sprintf("%v", []interface{}(t))
}
