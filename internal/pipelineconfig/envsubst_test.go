package pipelineconfig

import "testing"

func TestResolveEnvString_WholeValueEnvPrefix(t *testing.T) {
	t.Setenv("ALERT_HISTORY_TEST_VAR", "secret-value")
	if got := resolveEnvString("env:ALERT_HISTORY_TEST_VAR"); got != "secret-value" {
		t.Errorf("got %q, want %q", got, "secret-value")
	}
}

func TestResolveEnvString_WholeValueEnvPrefixUnset(t *testing.T) {
	if got := resolveEnvString("env:ALERT_HISTORY_DOES_NOT_EXIST"); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestResolveEnvString_PlaceholderSubstitution(t *testing.T) {
	t.Setenv("ALERT_HISTORY_HOST", "milvus.internal")
	t.Setenv("ALERT_HISTORY_PORT", "19530")
	got := resolveEnvString("${ALERT_HISTORY_HOST}:${ALERT_HISTORY_PORT}")
	if want := "milvus.internal:19530"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveEnvString_NoPlaceholdersPassesThrough(t *testing.T) {
	if got := resolveEnvString("plain-value"); got != "plain-value" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestResolveEnvString_UnterminatedPlaceholderPassesThroughLiterally(t *testing.T) {
	got := resolveEnvString("prefix ${UNCLOSED")
	if want := "prefix ${UNCLOSED"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveEnv_WalksNestedMapsAndSlices(t *testing.T) {
	t.Setenv("ALERT_HISTORY_NESTED", "resolved")
	in := map[string]interface{}{
		"top": "${ALERT_HISTORY_NESTED}",
		"list": []interface{}{
			"env:ALERT_HISTORY_NESTED",
			map[string]interface{}{"inner": "${ALERT_HISTORY_NESTED}"},
		},
		"number": 42,
	}

	out := resolveEnv(in).(map[string]interface{})
	if out["top"] != "resolved" {
		t.Errorf("top: got %v", out["top"])
	}
	list := out["list"].([]interface{})
	if list[0] != "resolved" {
		t.Errorf("list[0]: got %v", list[0])
	}
	inner := list[1].(map[string]interface{})
	if inner["inner"] != "resolved" {
		t.Errorf("inner: got %v", inner["inner"])
	}
	if out["number"] != 42 {
		t.Errorf("number should pass through unchanged, got %v", out["number"])
	}
}
