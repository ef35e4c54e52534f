package notify

import (
	"strconv"
	"time"
)

type valueKind uint8

const (
	kindStr valueKind = iota
	kindInt
	kindDur
)

// Value is one loggable argument: a string, integer or duration.
type Value struct {
	kind valueKind
	s    string
	i    int64
	d    time.Duration
}

func Str(s string) Value        { return Value{kind: kindStr, s: s} }
func Int(i int64) Value         { return Value{kind: kindInt, i: i} }
func Dur(d time.Duration) Value { return Value{kind: kindDur, d: d} }
func Time(t time.Time) Value    { return Str(t.UTC().Format(time.RFC3339)) }

func Err(err error) Value {
	if err == nil {
		return Str("<nil>")
	}
	return Str(err.Error())
}

func (v Value) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindDur:
		return strconv.FormatInt(v.d.Milliseconds(), 10) + "ms"
	}
	return v.s
}
