package validation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/systmms/cookieguard/internal/credential"
)

const (
	delimitedFields = 7
	httpOnlyPrefix  = "#HttpOnly_"
)

// parseDelimited reads the tab-separated browser export format. Malformed lines become
// warnings and are skipped.
func parseDelimited(data []byte) ([]credential.Record, []string, error) {
	var (
		records  []credential.Record
		warnings []string
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), MaxBundleSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
			httpOnly = true
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < delimitedFields {
			warnings = append(warnings, fmt.Sprintf("line %d: expected %d tab-separated fields, got %d", lineNo, delimitedFields, len(fields)))
			continue
		}

		expires, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
		if err != nil && !(errors.Is(err, strconv.ErrRange) && expires > 0) {
			warnings = append(warnings, fmt.Sprintf("line %d: invalid expiry %q", lineNo, fields[4]))
			continue
		}
		switch {
		case expires < 0:
			expires = 0
		case expires > credential.MaxExpires:
			expires = credential.MaxExpires
		}

		name := strings.TrimSpace(fields[5])
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("line %d: missing cookie name", lineNo))
			continue
		}

		records = append(records, credential.Record{
			Domain:            strings.TrimSpace(fields[0]),
			IncludeSubdomains: strings.EqualFold(fields[1], "TRUE"),
			Path:              fields[2],
			Secure:            strings.EqualFold(fields[3], "TRUE"),
			Expires:           expires,
			Name:              name,
			Value:             strings.Join(fields[6:], "\t"),
			HTTPOnly:          httpOnly,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("failed to read delimited bundle: %w", err)
	}
	return records, warnings, nil
}
