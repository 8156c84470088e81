package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/queryopt/engine/internal/model"
)

// DecodePlanJSON parses a raw EXPLAIN (FORMAT JSON) payload into a PlanTree
// without going through a live connection, for callers replaying captured
// plans (tests and fixtures).
func DecodePlanJSON(payload []byte) (*model.PlanTree, error) {
	return decodePlanJSON(payload)
}

// decodePlanJSON turns a PostgreSQL EXPLAIN (FORMAT JSON) payload into a
// PlanTree. json.Decoder.UseNumber() decodes numbers as json.Number, the
// way the teacher's parser does; asFloat then converts each numeric field
// the tree keeps to float64.
func decodePlanJSON(payload []byte) (*model.PlanTree, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode explain json: %w", err)
	}

	entry, err := firstEntry(raw)
	if err != nil {
		return nil, err
	}

	planVal, ok := entry["Plan"]
	if !ok {
		return nil, errors.New("explain json: missing Plan root")
	}
	planMap, err := asObject(planVal)
	if err != nil {
		return nil, fmt.Errorf("explain json: invalid Plan node: %w", err)
	}

	root := parsePlanNode(planMap)

	return &model.PlanTree{
		Root:            root,
		PlanningTimeMs:  asFloat(entry["Planning Time"]),
		ExecutionTimeMs: asFloat(entry["Execution Time"]),
	}, nil
}

func firstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, errors.New("explain json: empty payload")
		}
		return asObject(v[0])
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("explain json: unexpected top-level type %T", payload)
	}
}

func parsePlanNode(data map[string]any) *model.PlanNode {
	node := &model.PlanNode{
		NodeType:    asString(data["Node Type"]),
		Relation:    model.Ident(asString(data["Relation Name"])),
		Alias:       model.Ident(asString(data["Alias"])),
		StartupCost: asFloat(data["Startup Cost"]),
		TotalCost:   asFloat(data["Total Cost"]),
		PlanRows:    asFloat(data["Plan Rows"]),
		PlanWidth:   asFloat(data["Plan Width"]),
		ActualLoops: asFloat(data["Actual Loops"]),
		Filter:      asString(data["Filter"]),
		JoinType:    asString(data["Join Type"]),
	}
	if _, analyzed := data["Actual Rows"]; analyzed {
		v := asFloat(data["Actual Rows"])
		node.ActualRows = &v
	}
	if node.NodeType == "Sort" {
		node.SortMethod = asString(data["Sort Method"])
	}

	for _, childVal := range asSlice(data["Plans"]) {
		childMap, err := asObject(childVal)
		if err != nil {
			continue
		}
		node.Children = append(node.Children, parsePlanNode(childMap))
	}
	return node
}

func asObject(val any) (map[string]any, error) {
	if val == nil {
		return nil, errors.New("nil object")
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", val)
	}
	return obj, nil
}

func asSlice(val any) []any {
	v, _ := val.([]any)
	return v
}

func asString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(val any) float64 {
	switch v := val.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
