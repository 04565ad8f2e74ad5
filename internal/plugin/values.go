package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeValue checks value against the option type and returns its
// canonical stored form: integers and doubles are reformatted, booleans
// become "1" or "0" and lists drop blank lines.
func NormalizeValue(t DataType, value string) (string, error) {
	switch t {
	case TypeString, "":
		return value, nil
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not an integer", value)
		}
		return strconv.FormatInt(n, 10), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", value)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case TypeBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return "1", nil
		case "0", "false", "no", "off":
			return "0", nil
		}
		return "", fmt.Errorf("%q is not a boolean", value)
	case TypeList:
		var items []string
		for _, line := range strings.Split(value, "\n") {
			if strings.TrimSpace(line) != "" {
				items = append(items, line)
			}
		}
		return strings.Join(items, "\n"), nil
	}
	return "", fmt.Errorf("unknown option type %q", t)
}
