package cel

// FilterExpressionExamples documents CEL predicates accepted on event filters.
var FilterExpressionExamples = map[string]string{
	"simple_equals":       `payload.action == "opened"`,
	"draft_pull_request":  `payload.pull_request.draft == true`,
	"numeric_threshold":   `payload.size > 1000.0`,
	"string_contains":     `payload.repository.full_name.contains("internal/")`,
	"in_list":             `payload.action in ["opened", "reopened", "synchronize"]`,
	"source_match":        `source == "github" && type == "pull_request"`,
	"has_field":           `has(payload.sender) && payload.sender.login != ""`,
	"tagged":              `"urgent" in tags`,
	"combined_conditions": `(payload.action == "opened" || payload.action == "labeled") && !payload.pull_request.draft`,
}

// TransformExpressionExamples documents CEL expressions usable in transform
// specs; the resulting map is merged into the event payload.
var TransformExpressionExamples = map[string]string{
	"annotate":     `{"normalized_action": payload.action.upperAscii()}`,
	"summarize":    `{"summary": source + "/" + type + ": " + payload.action}`,
	"conditional":  `{"severity": payload.size > 5000.0 ? "large" : "small"}`,
	"default_name": `{"repo": has(payload.repository) ? payload.repository.name : "unknown"}`,
}
