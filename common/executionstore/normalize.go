package executionstore

// Producers are loose about workflow definition shape: nodes and edges
// arrive as arrays or as id-keyed mappings, with arbitrary fields missing.
// Normalization settles both into one canonical form before persistence and
// is idempotent on already-normalized input.

// NormalizeWorkflowDefinition returns the definition with edges settled
// into an array of {id, src, dst, ...} objects and nodes into a list of
// defaulted node objects. All other definition fields pass through.
func NormalizeWorkflowDefinition(raw any) map[string]any {
	workflow := map[string]any{}
	obj, _ := raw.(map[string]any)
	for k, v := range obj {
		workflow[k] = v
	}

	workflow["edges"] = NormalizeEdges(obj["edges"])
	workflow["nodes"] = NormalizeNodes(obj["nodes"])
	return workflow
}

// NormalizeEdges accepts an edge array or an id-keyed edge mapping and
// emits an array of edge objects. Anything else becomes an empty array.
func NormalizeEdges(raw any) []map[string]any {
	switch edges := raw.(type) {
	case []any:
		out := make([]map[string]any, 0, len(edges))
		for _, edge := range edges {
			out = append(out, normalizeEdge(edge, ""))
		}
		return out
	case map[string]any:
		out := make([]map[string]any, 0, len(edges))
		for id, edge := range edges {
			out = append(out, normalizeEdge(edge, id))
		}
		return out
	}
	return []map[string]any{}
}

// normalizeEdge guarantees string id/src/dst on every edge. The mapping key
// supplies the id when the edge itself carries none.
func normalizeEdge(raw any, fallbackID string) map[string]any {
	obj, _ := raw.(map[string]any)

	id := stringField(obj, "id")
	if id == "" {
		id = fallbackID
	}

	normalized := map[string]any{
		"id":  id,
		"src": stringField(obj, "src"),
		"dst": stringField(obj, "dst"),
	}
	for k, v := range obj {
		if _, ok := normalized[k]; !ok {
			normalized[k] = v
		}
	}
	return normalized
}

// NormalizeNodes accepts a node array or an id-keyed node mapping and
// emits a list of defaulted node objects. An explicit id field on a mapped
// node wins over the mapping key.
func NormalizeNodes(raw any) []map[string]any {
	switch nodes := raw.(type) {
	case []any:
		out := make([]map[string]any, 0, len(nodes))
		for _, node := range nodes {
			out = append(out, normalizeNode(node))
		}
		return out
	case map[string]any:
		out := make([]map[string]any, 0, len(nodes))
		for id, node := range nodes {
			merged := map[string]any{"id": id}
			if obj, ok := node.(map[string]any); ok {
				for k, v := range obj {
					merged[k] = v
				}
			}
			out = append(out, normalizeNode(merged))
		}
		return out
	}
	return []map[string]any{}
}

// normalizeNode applies the mandatory-field defaults and coerces their
// types. Credentials never survive into the stored document.
func normalizeNode(raw any) map[string]any {
	normalized := map[string]any{
		"id":          "",
		"name":        "",
		"trigger":     false,
		"type":        "",
		"parameters":  map[string]any{},
		"output":      map[string]any{},
		"credentials": nil,
		"error":       nil,
	}
	if obj, ok := raw.(map[string]any); ok {
		for k, v := range obj {
			normalized[k] = v
		}
	}

	normalized["id"] = asString(normalized["id"])
	normalized["name"] = asString(normalized["name"])
	normalized["type"] = asString(normalized["type"])
	normalized["trigger"] = asBool(normalized["trigger"])
	normalized["parameters"] = asObject(normalized["parameters"])
	normalized["output"] = asObject(normalized["output"])
	normalized["credentials"] = nil
	return normalized
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asObject(v any) map[string]any {
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}
