package fixmsg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quickfixgo/quickfix"
)

// Message is an insertion-ordered tag -> value mapping, the wire-adjacent
// representation shared by both protocol roles. A tag is never stored with
// an empty value: Set with an empty value removes the tag instead.
type Message struct {
	order  []quickfix.Tag
	values map[quickfix.Tag]string
}

// New creates an empty Message.
func New() *Message {
	return &Message{values: make(map[quickfix.Tag]string)}
}

// Get returns the value for tag, or the empty string if the tag is absent.
func (m *Message) Get(t quickfix.Tag) string {
	return m.values[t]
}

// Has reports whether tag is present.
func (m *Message) Has(t quickfix.Tag) bool {
	_, ok := m.values[t]
	return ok
}

// GetInt returns the value for tag parsed as an integer.
func (m *Message) GetInt(t quickfix.Tag) (int64, error) {
	v, ok := m.values[t]
	if !ok {
		return 0, fmt.Errorf("tag %d not set", t)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tag %d value %q is not an integer: %w", t, v, err)
	}
	return n, nil
}

// Set stores value under tag, replacing any previous value. An empty value
// removes the tag. Returns the message for chaining.
func (m *Message) Set(t quickfix.Tag, value string) *Message {
	if value == "" {
		return m.Unset(t)
	}
	if _, exists := m.values[t]; !exists {
		m.order = append(m.order, t)
	}
	m.values[t] = value
	return m
}

// SetInt stores an integer value under tag.
func (m *Message) SetInt(t quickfix.Tag, value int64) *Message {
	return m.Set(t, strconv.FormatInt(value, 10))
}

// Unset removes tag if present. Returns the message for chaining.
func (m *Message) Unset(t quickfix.Tag) *Message {
	if _, exists := m.values[t]; !exists {
		return m
	}
	delete(m.values, t)
	for i, existing := range m.order {
		if existing == t {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return m
}

// Len returns the number of tags set.
func (m *Message) Len() int {
	return len(m.values)
}

// Tags returns the tags in insertion order.
func (m *Message) Tags() []quickfix.Tag {
	out := make([]quickfix.Tag, len(m.order))
	copy(out, m.order)
	return out
}

// Clone returns an independent copy.
func (m *Message) Clone() *Message {
	c := &Message{
		order:  make([]quickfix.Tag, len(m.order)),
		values: make(map[quickfix.Tag]string, len(m.values)),
	}
	copy(c.order, m.order)
	for t, v := range m.values {
		c.values[t] = v
	}
	return c
}

// Contains reports whether every tag in want is present in m with an equal
// value. This is the subset test used for scenario WAIT matching, not full
// equality.
func (m *Message) Contains(want *Message) bool {
	for t, v := range want.values {
		if m.values[t] != v {
			return false
		}
	}
	return true
}

// String renders the message as pipe-delimited tag=value pairs in insertion
// order, the diagnostic form used in logs.
func (m *Message) String() string {
	var b strings.Builder
	for i, t := range m.order {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d=%s", t, m.values[t])
	}
	return b.String()
}
