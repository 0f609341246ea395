package bus

import (
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// ValidateBusName checks that name can be used as a registry key and inside
// transport subjects, routing keys and topics.
func ValidateBusName(name string) error {
	if name == "" {
		return fmt.Errorf("bus name empty: %w", berr.ErrInvalidBusName)
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return fmt.Errorf("bus name %q: %w", name, berr.ErrInvalidBusName)
		}
	}

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Errorf("bus name %q: %w", name, berr.ErrInvalidBusName)
	}

	return nil
}

// SplitURL splits a service URL such as "svc://media.bus" into scheme and bus name.
func SplitURL(url string) (scheme, name string, err error) {
	scheme, name, ok := strings.Cut(url, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("service url %q: %w", url, berr.ErrInvalidBusName)
	}

	if err := ValidateBusName(name); err != nil {
		return "", "", err
	}

	return scheme, name, nil
}
