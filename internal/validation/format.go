package validation

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/systmms/cookieguard/internal/credential"
)

const netscapeHeader = "# Netscape HTTP Cookie File"

// DetectFormat guesses the serialization of data. JSON documents are structured; files with the
// Netscape header or at least one 7-field tab-separated line are delimited.
func DetectFormat(data []byte) credential.Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return credential.FormatUnknown
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return credential.FormatStructured
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), MaxBundleSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, netscapeHeader) {
			return credential.FormatDelimited
		}
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}
		if len(strings.Split(line, "\t")) >= delimitedFields {
			return credential.FormatDelimited
		}
	}
	return credential.FormatUnknown
}
