// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import "testing"

func TestRelocator_Rewrite(t *testing.T) {
	t.Parallel()

	r := newRelocator([]Relocation{
		{Pattern: "com.google.gson", Replacement: "kite.libs.gson"},
		// would relocate the output of the first rule if rules chained
		{Pattern: "kite.libs", Replacement: "other.libs"},
		{Pattern: " . ", Replacement: "ignored"},
	})

	tests := []struct{ in, want string }{
		{"com.google.gson", "kite.libs.gson"},
		{"com/google/gson", "kite/libs/gson"},
		{"com.google.gson.Gson", "kite.libs.gson.Gson"},
		{"com/google/gson/Gson.class", "kite/libs/gson/Gson.class"},
		{"Lcom/google/gson/Gson;", "Lkite/libs/gson/Gson;"},
		{"(Lcom/google/gson/Gson;[Lcom/google/gson/JsonElement;)V", "(Lkite/libs/gson/Gson;[Lkite/libs/gson/JsonElement;)V"},
		{"java.util.List<com.google.gson.Gson>", "java.util.List<kite.libs.gson.Gson>"},
		{"kite.libs.Existing", "other.libs.Existing"},
		{"xcom/google/gson/Gson", "xcom/google/gson/Gson"},
		{"org.acom.google.gson.X", "org.acom.google.gson.X"},
		{"com.google.gsonx.Y", "com.google.gsonx.Y"},
		{"XLcom/google/gson/Gson;", "XLcom/google/gson/Gson;"},
		{"com.google.gson/mixed", "com.google.gson/mixed"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := r.rewrite(tt.in); got != tt.want {
			t.Errorf("rewrite(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if len(r.rules) != 2 {
		t.Errorf("rules = %d, want blank rule skipped", len(r.rules))
	}
}
