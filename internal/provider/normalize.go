package provider

import "strings"

// paramRule normalizes sampling parameters for a model family. Some
// backends lock the temperature for specific families and rename the
// token-limit parameter; the rule table applies the correct parameter set
// silently instead of exposing the difference to callers.
type paramRule struct {
	// prefixes match the start of the model name.
	prefixes []string
	// fixedTemperature, when non-nil, overrides whatever the caller set.
	fixedTemperature *float64
	// tokenParam is the wire name of the token-limit parameter.
	tokenParam string
}

func fixed(t float64) *float64 { return &t }

// paramRules is consulted first-match-wins; the final entry is the
// catch-all default.
var paramRules = []paramRule{
	// OpenAI reasoning families reject temperature overrides and take
	// max_completion_tokens instead of max_tokens.
	{prefixes: []string{"o1", "o3", "o4"}, fixedTemperature: fixed(1.0), tokenParam: "max_completion_tokens"},
	{prefixes: []string{"gpt-5"}, fixedTemperature: fixed(1.0), tokenParam: "max_completion_tokens"},
	{prefixes: []string{"gpt-4.1", "gpt-4o", "gpt-4", "gpt-3.5"}, tokenParam: "max_tokens"},
	{prefixes: []string{""}, tokenParam: "max_tokens"},
}

// resolvedParams is the normalized parameter set for one call.
type resolvedParams struct {
	temperature *float64
	tokenParam  string
	maxTokens   int
}

// resolveParams applies the rule table for model to the caller's options.
func resolveParams(model string, opts Options) resolvedParams {
	rule := lookupRule(model)

	out := resolvedParams{
		temperature: opts.Temperature,
		tokenParam:  rule.tokenParam,
		maxTokens:   opts.MaxTokens,
	}
	if rule.fixedTemperature != nil {
		out.temperature = rule.fixedTemperature
	}
	return out
}

func lookupRule(model string) paramRule {
	lower := strings.ToLower(model)
	for _, rule := range paramRules {
		for _, p := range rule.prefixes {
			if p == "" || strings.HasPrefix(lower, p) {
				return rule
			}
		}
	}
	return paramRules[len(paramRules)-1]
}
