package log

import (
	"fmt"
	"sort"
	"strings"
)

// GenStr renders fields as "[k1=v1 k2=v2]" with keys sorted.
func GenStr(allFields map[string]any) string {
	keys := make([]string, 0, len(allFields))
	for field := range allFields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		var valueStr string
		value := allFields[key]

		if stringer, ok := value.(fmt.Stringer); ok {
			valueStr = stringer.String()
		} else {
			valueStr = fmt.Sprintf("%v", value)
		}

		if strings.Contains(valueStr, " ") {
			valueStr = `"` + valueStr + `"`
		}
		if valueStr == "" {
			parts = append(parts, key)
		} else {
			parts = append(parts, key+"="+valueStr)
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " "))
}
