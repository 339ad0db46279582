package server

import (
	"encoding/json"
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	expectedTools := []string{
		"terrain_info",
		"terrain_preview",
		"terrain_split",
		"terrain_metrics",
		"terrain_filter",
		"terrain_pipeline",
		"terrain_estimate",
		"terrain_scan",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		if _, dup := toolMap[tool.Name]; dup {
			t.Errorf("duplicate tool %s", tool.Name)
		}
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("got %d tools, want %d", len(tools), len(expectedTools))
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}
			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok || len(props) == 0 {
				t.Fatal("InputSchema missing properties")
			}

			// every required field must be a declared property
			if req, ok := tool.InputSchema["required"].([]string); ok {
				for _, r := range req {
					if _, ok := props[r]; !ok {
						t.Errorf("required field %s is not a property", r)
					}
				}
			}
			for name, p := range props {
				m, ok := p.(map[string]interface{})
				if !ok || m["type"] == nil || m["description"] == nil {
					t.Errorf("property %s lacks type or description", name)
				}
			}
		})
	}
}

func TestToolDefinitions_Required(t *testing.T) {
	want := map[string][]string{
		"terrain_info":     {"path"},
		"terrain_preview":  {"path"},
		"terrain_split":    {"input", "output_dir"},
		"terrain_metrics":  {"input_dir"},
		"terrain_pipeline": {"input", "output_dir"},
		"terrain_estimate": {"path"},
		"terrain_scan":     {"path"},
	}
	for _, tool := range GetToolDefinitions() {
		req, _ := tool.InputSchema["required"].([]string)
		exp := want[tool.Name]
		if len(req) != len(exp) {
			t.Errorf("%s required: got %v, want %v", tool.Name, req, exp)
			continue
		}
		for i := range exp {
			if req[i] != exp[i] {
				t.Errorf("%s required: got %v, want %v", tool.Name, req, exp)
			}
		}
	}
}

func TestToolDefinitions_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(GetToolDefinitions())
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	for _, d := range decoded {
		if _, ok := d["inputSchema"]; !ok {
			t.Errorf("tool %v missing inputSchema key", d["name"])
		}
	}
}
