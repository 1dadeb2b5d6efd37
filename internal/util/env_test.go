package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("CALMA_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CALMA_TEST_BOOL", tc.defaultValue); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.defaultValue, got, tc.want)
		}
	}
}

func TestParseBoolEnvUnset(t *testing.T) {
	if got := ParseBoolEnv("CALMA_TEST_BOOL_UNSET", true); !got {
		t.Error("unset variable should return the default")
	}
	if got := ParseBoolEnv("CALMA_TEST_BOOL_UNSET", false); got {
		t.Error("unset variable should return the default")
	}
}
