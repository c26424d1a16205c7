package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OpKind is the kind of a proposed memory operation.
type OpKind string

const (
	OpAdd    OpKind = "ADD"
	OpUpdate OpKind = "UPDATE"
	OpDelete OpKind = "DELETE"
)

// Operation is one change to a conversation's memory set proposed by the
// model.
//
//	ADD     Content required, ID empty
//	UPDATE  ID and Content required
//	DELETE  ID required
type Operation struct {
	Kind     OpKind         `json:"op"`
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields required by the operation kind.
func (o Operation) Validate() error {
	switch o.Kind {
	case OpAdd:
		if strings.TrimSpace(o.Content) == "" {
			return errors.New("ADD requires content")
		}
		if o.ID != "" {
			return errors.New("ADD must not reference an id")
		}
	case OpUpdate:
		if o.ID == "" {
			return errors.New("UPDATE requires id")
		}
		if strings.TrimSpace(o.Content) == "" {
			return errors.New("UPDATE requires content")
		}
	case OpDelete:
		if o.ID == "" {
			return errors.New("DELETE requires id")
		}
	default:
		return fmt.Errorf("unknown operation %q", o.Kind)
	}
	return nil
}

// wireOperation accepts the field spellings models commonly produce.
type wireOperation struct {
	Op       string         `json:"op"`
	Event    string         `json:"event"`
	ID       any            `json:"id"`
	Content  string         `json:"content"`
	Text     string         `json:"text"`
	Memory   string         `json:"memory"`
	Metadata map[string]any `json:"metadata"`
}

func (w wireOperation) operation() Operation {
	kind := w.Op
	if kind == "" {
		kind = w.Event
	}
	content := w.Content
	if content == "" {
		content = w.Text
	}
	if content == "" {
		content = w.Memory
	}

	var id string
	switch v := w.ID.(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%v", v)
	}

	return Operation{
		Kind:     OpKind(strings.ToUpper(strings.TrimSpace(kind))),
		ID:       strings.TrimSpace(id),
		Content:  strings.TrimSpace(content),
		Metadata: w.Metadata,
	}
}

// ParseOperations extracts the operation list from model output. Markdown
// fences and prose around the JSON are ignored. Both {"operations":[...]}
// and a bare array are accepted. Every operation is validated; any invalid
// one rejects the whole response with a MalformedResponseError.
func ParseOperations(raw string) ([]Operation, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedResponseError{Reason: fmt.Sprintf(format, args...), Raw: raw}
	}

	body := stripFences(raw)
	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return nil, malformed("no JSON found")
	}

	dec := json.NewDecoder(strings.NewReader(body[start:]))
	var value json.RawMessage
	if err := dec.Decode(&value); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	var wire []wireOperation
	trimmed := bytes.TrimSpace(value)
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, malformed("invalid operation array: %v", err)
		}
	} else {
		var envelope struct {
			Operations *[]wireOperation `json:"operations"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, malformed("invalid operation object: %v", err)
		}
		if envelope.Operations == nil {
			return nil, malformed(`missing "operations" field`)
		}
		wire = *envelope.Operations
	}

	ops := make([]Operation, 0, len(wire))
	for i, w := range wire {
		op := w.operation()
		if err := op.Validate(); err != nil {
			return nil, malformed("operation %d: %v", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// stripFences returns the contents of the first fenced code block, or s
// unchanged when it has none.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
