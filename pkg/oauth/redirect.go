package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"
)

// suspiciousTLDs are top-level domains disproportionately used for
// phishing redirect hosts. Matches produce advisory warnings, not errors.
var suspiciousTLDs = []string{
	".tk", ".ml", ".ga", ".cf", ".gq", ".zip", ".mov", ".top", ".xyz",
}

// ScreenRedirectURI inspects a redirect URI for phishing indicators and
// returns advisory warnings. An unparseable URI is the only hard error;
// everything else is left to the caller's policy.
func ScreenRedirectURI(rawURI string) ([]string, error) {
	parsed, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}

	var warnings []string
	host := parsed.Hostname()

	if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
		warnings = append(warnings, fmt.Sprintf("redirect host %q is an IP literal", host))
	}

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(strings.ToLower(host), tld) {
			warnings = append(warnings, fmt.Sprintf("redirect host %q uses a suspicious top-level domain", host))
			break
		}
	}

	for _, r := range host {
		if r > unicode.MaxASCII {
			warnings = append(warnings,
				fmt.Sprintf("redirect host %q contains non-ASCII characters (possible homograph)", host))
			break
		}
	}

	if strings.Contains(host, "--") || strings.Contains(host, "..") {
		warnings = append(warnings, fmt.Sprintf("redirect host %q contains a doubled separator", host))
	}

	return warnings, nil
}
