// Package fieldpath resolves dot-separated field paths against event data,
// e.g. "payload.pull_request.draft". It is a deliberately small evaluator:
// maps keyed by string, one level of struct-free navigation per segment,
// no reflection and no arbitrary expressions.
package fieldpath

import (
	"fmt"
	"strings"

	"hookrelay/pkg/models"
)

// Resolve returns the value at path within the event. The first segment may
// be one of the envelope fields (id, source, type, payload, metadata, tags);
// remaining segments index into nested maps.
func Resolve(event models.EventData, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	var current interface{}
	switch segments[0] {
	case "id":
		current = event.ID
	case "source":
		current = event.Source
	case "type":
		current = event.Type
	case "payload":
		current = event.Payload
	case "metadata":
		current = event.Metadata
	case "tags":
		current = event.Tags
	default:
		// Bare paths default into the payload.
		current = event.Payload
		segments = append([]string{"payload"}, segments...)
	}

	for _, segment := range segments[1:] {
		m, ok := toMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Set writes value at path inside the event's payload or metadata,
// creating intermediate maps as needed. Only payload and metadata are
// writable; the envelope fields are not.
func Set(event *models.EventData, path string, value interface{}) error {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return fmt.Errorf("empty field path")
	}

	var root map[string]interface{}
	switch segments[0] {
	case "payload":
		if event.Payload == nil {
			event.Payload = make(map[string]interface{})
		}
		root = event.Payload
		segments = segments[1:]
	case "metadata":
		if event.Metadata == nil {
			event.Metadata = make(map[string]interface{})
		}
		root = event.Metadata
		segments = segments[1:]
	case "id", "source", "type", "tags", "timestamp":
		return fmt.Errorf("field path %q is not writable", path)
	default:
		if event.Payload == nil {
			event.Payload = make(map[string]interface{})
		}
		root = event.Payload
	}

	if len(segments) == 0 {
		return fmt.Errorf("field path %q names a whole section, not a field", path)
	}

	current := root
	for _, segment := range segments[:len(segments)-1] {
		next, ok := toMap(current[segment])
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
	return nil
}

// Delete removes the value at path, if present. Missing paths are a no-op.
func Delete(event *models.EventData, path string) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return
	}

	var root map[string]interface{}
	switch segments[0] {
	case "payload":
		root = event.Payload
		segments = segments[1:]
	case "metadata":
		root = event.Metadata
		segments = segments[1:]
	default:
		root = event.Payload
	}
	if root == nil || len(segments) == 0 {
		return
	}

	current := root
	for _, segment := range segments[:len(segments)-1] {
		next, ok := toMap(current[segment])
		if !ok {
			return
		}
		current = next
	}

	delete(current, segments[len(segments)-1])
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
