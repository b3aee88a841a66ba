package agent

// baseToolKeyParams maps tool names to their primary semantic parameter key.
// Shared by loop detection (paramDedupTools) and step-summary rendering to
// extract the meaningful parameter for deduplication and display.
//
// When adding a new tool with a clear "key parameter", update this map so
// both loop detection and step summaries pick it up automatically.
var baseToolKeyParams = map[string]string{
	"read_file":        "path",
	"write_file":       "path",
	"list_files":       "path",
	"glob_search":      "pattern",
	"move_file":        "src",
	"copy_file":        "src",
	"delete_file":      "path",
	"delete_directory": "path",
	"create_directory": "path",
	"search_text":      "query",
	"shell_exec":       "command",
	"web_fetch":        "url",
	"web_search":       "query",
}

// mergeToolKeyParams creates a new map from baseToolKeyParams + extras.
func mergeToolKeyParams(extras map[string]string) map[string]string {
	m := make(map[string]string, len(baseToolKeyParams)+len(extras))
	for k, v := range baseToolKeyParams {
		m[k] = v
	}
	for k, v := range extras {
		m[k] = v
	}
	return m
}
