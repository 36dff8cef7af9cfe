package at

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by line feeds, dropping a preceding carriage return,
// and also recognizes the SMS input prompt (">" with an optional trailing
// space) at the start of a token.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		n := len(Prompt)
		if len(data) > n && data[n] == ' ' {
			n++
		}
		return n, data[0:len(Prompt)], nil
	}

	// 2. Match line ending, tolerating bare LF from sloppy firmware
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[0:i], []byte("\r")), nil
	}

	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte("\r")), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg), strings.HasPrefix(line, UrcMessageReport), line == UrcCall:
		return TypeURC
	case strings.HasPrefix(line, "AT"):
		return TypeEcho
	default:
		return TypeData
	}
}

// Lines tokenizes a raw response with Splitter and returns its trimmed,
// non-empty lines.
func Lines(response string) []string {
	scanner := bufio.NewScanner(strings.NewReader(response))
	scanner.Split(Splitter)

	var lines []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Value extracts the information text of a query response: the first line
// that is neither the OK result code nor an echo of the command. Modems that
// still echo despite ATE0 are covered by skipping echoes. When no such line
// exists the whole trimmed response is returned.
func Value(response string) string {
	for _, line := range Lines(response) {
		if line == OK || Classify(line) == TypeEcho {
			continue
		}
		return line
	}
	return strings.TrimSpace(response)
}

// Registration extracts the <stat> field of a +CREG response. Both the
// query form "+CREG: <n>,<stat>[,<lac>,<ci>]" and the unsolicited form
// "+CREG: <stat>[,<lac>,<ci>]" are understood. An unsolicited line may
// precede the answer to the query, so the last parsable line wins.
func Registration(response string) (int, bool) {
	stat, found := 0, false
	for _, line := range Lines(response) {
		rest, ok := strings.CutPrefix(line, CregPrefix)
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		field := fields[0]
		// <lac> is quoted, <stat> never is
		if len(fields) >= 2 && !strings.HasPrefix(strings.TrimSpace(fields[1]), `"`) {
			field = fields[1]
		}
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		stat, found = n, true
	}
	return stat, found
}

// Registered reports whether a +CREG response says the modem is attached to
// its home network or roaming.
func Registered(response string) bool {
	stat, ok := Registration(response)
	return ok && (stat == RegHome || stat == RegRoaming)
}

// MessageReference extracts <mr> from a "+CMGS: <mr>" send confirmation.
func MessageReference(response string) (int, bool) {
	for _, line := range Lines(response) {
		rest, found := strings.CutPrefix(line, CmgsPrefix)
		if !found {
			continue
		}
		mr, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return 0, false
		}
		return mr, true
	}
	return 0, false
}
