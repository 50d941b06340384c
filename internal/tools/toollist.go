package tools

import (
	"encoding/json"

	"github.com/persai/persai/internal/schema"
)

// ToolList holds a named set of tools in insertion order and exposes them
// for LLM calls. It is not safe for concurrent mutation; build it once and
// publish it.
type ToolList struct {
	order []string
	tools map[string]schema.Tool
}

func NewToolList(ts ...schema.Tool) *ToolList {
	list := ToolList{tools: make(map[string]schema.Tool, len(ts))}
	for _, t := range ts {
		list.Add(t)
	}

	return &list
}

// Get returns the tool with the given name.
func (r *ToolList) Get(name string) (schema.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Add registers a tool. A tool with the same name is replaced and returned so
// the caller can report the collision; the replacement moves to the end.
func (r *ToolList) Add(t schema.Tool) (replaced schema.Tool) {
	name := t.Name()
	if prev, ok := r.tools[name]; ok {
		replaced = prev
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.tools[name] = t
	r.order = append(r.order, name)

	return replaced
}

// Len returns the number of tools.
func (r *ToolList) Len() int { return len(r.order) }

// Names returns tool names in insertion order.
func (r *ToolList) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the tools in insertion order.
func (r *ToolList) All() []schema.Tool {
	out := make([]schema.Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Definitions returns all tool definitions in OpenAI function-calling format.
func (r *ToolList) Definitions() []map[string]any {
	list := make([]map[string]any, 0, len(r.order))
	for _, n := range r.order {
		t := r.tools[n]
		var params any
		if err := json.Unmarshal(t.Parameters(), &params); err != nil || params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		list = append(list, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  params,
			},
		})
	}
	return list
}

var _ schema.ToolSet = (*ToolList)(nil)
