package rule

import (
	"context"
	"testing"

	"github.com/abcxyz/pkg/testutil"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rules   []Rule
		kwargs  map[string]any
		wantErr string
	}{
		{
			name:   "no_rules_always_passes",
			rules:  nil,
			kwargs: map[string]any{"x": 1},
		},
		{
			name:   "satisfied_rule_passes",
			rules:  []Rule{{Kwarg: "count", Expr: "count > 0", Message: "count must be positive"}},
			kwargs: map[string]any{"count": 5},
		},
		{
			name:    "unsatisfied_rule_fails_with_message",
			rules:   []Rule{{Kwarg: "count", Expr: "count > 0", Message: "count must be positive"}},
			kwargs:  map[string]any{"count": -1},
			wantErr: "count must be positive",
		},
		{
			name:    "unsatisfied_rule_without_message_names_the_expr",
			rules:   []Rule{{Kwarg: "count", Expr: "count > 0"}},
			kwargs:  map[string]any{"count": -1},
			wantErr: `rule "count > 0" was not satisfied`,
		},
		{
			name:    "rule_referencing_sibling_kwarg",
			rules:   []Rule{{Kwarg: "start", Expr: "start < end", Message: "start must precede end"}},
			kwargs:  map[string]any{"start": 10, "end": 5},
			wantErr: "start must precede end",
		},
		{
			name:    "non_bool_result_is_a_configuration_error",
			rules:   []Rule{{Kwarg: "x", Expr: "x + 1"}},
			kwargs:  map[string]any{"x": 1},
			wantErr: "must evaluate to a bool",
		},
		{
			name:    "malformed_expression_fails_to_compile",
			rules:   []Rule{{Kwarg: "x", Expr: "x +++ 1"}},
			kwargs:  map[string]any{"x": 1},
			wantErr: "failed to compile",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			err := Validate(ctx, "mystep", tc.rules, tc.kwargs)
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Errorf("Validate() error diff (-got +want):\n%s", diff)
			}
		})
	}
}
