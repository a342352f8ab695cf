// Package scenario loads and replays line-oriented test scripts that drive
// the client role through the reservation lifecycle.
package scenario

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Action is a scenario line keyword.
type Action string

const (
	ActionLogon   Action = "logon"
	ActionReserve Action = "reserve"
	ActionAck     Action = "ack"
	ActionFill    Action = "fill"
	ActionDFD     Action = "dfd"
	ActionWait    Action = "wait"
	ActionEnd     Action = "end"
)

var knownActions = map[Action]bool{
	ActionLogon:   true,
	ActionReserve: true,
	ActionAck:     true,
	ActionFill:    true,
	ActionDFD:     true,
	ActionWait:    true,
	ActionEnd:     true,
}

// keyAliases maps the script mnemonics to protocol tag numbers.
var keyAliases = map[string]string{
	"uuid":    "50",
	"orderid": "37",
	"qty":     "38",
}

// mandatoryKeys lists the tag-number keys each action requires, checked
// after alias resolution.
var mandatoryKeys = map[Action][]string{
	ActionLogon:   {"50"},
	ActionReserve: {"50", "37", "38"},
	ActionAck:     {"37"},
	ActionFill:    {"37"},
	ActionDFD:     {"37"},
}

// Line is one parsed scenario action. Params is keyed by protocol tag
// number (aliases already resolved).
type Line struct {
	Action Action
	Params map[string]string
	Number int
	Label  string
}

// Scenario is an ordered list of valid action lines. Loading is
// all-or-nothing: one bad line fails the whole script.
type Scenario struct {
	Name  string
	Lines []Line
}

var labelRe = regexp.MustCompile(`\s+label="([^"]*)"\s*$`)

// Load parses the scenario script at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads a scenario script. Blank lines and #-prefixed lines are
// skipped; every other line must be `action key=value... [label="..."]`.
func Parse(r io.Reader, name string) (*Scenario, error) {
	sc := &Scenario{Name: name}
	var errs []string

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		line, err := parseLine(text, lineNumber)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		sc.Lines = append(sc.Lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", name, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("scenario %s has %d invalid line(s): %s",
			name, len(errs), strings.Join(errs, "; "))
	}
	if len(sc.Lines) == 0 {
		return nil, fmt.Errorf("scenario %s has no action lines", name)
	}
	return sc, nil
}

func parseLine(text string, number int) (Line, error) {
	label := ""
	if m := labelRe.FindStringSubmatch(text); m != nil {
		label = m[1]
		text = strings.TrimSpace(labelRe.ReplaceAllString(text, ""))
	}

	fields := strings.Fields(text)
	action := Action(strings.ToLower(fields[0]))
	if !knownActions[action] {
		return Line{}, fmt.Errorf("line %d: unknown action %q", number, fields[0])
	}

	params := make(map[string]string)
	for _, field := range fields[1:] {
		key, value, found := strings.Cut(field, "=")
		if !found || key == "" || value == "" {
			return Line{}, fmt.Errorf("line %d: malformed parameter %q", number, field)
		}
		if actual, ok := keyAliases[strings.ToLower(key)]; ok {
			key = actual
		}
		if _, err := strconv.Atoi(key); err != nil {
			return Line{}, fmt.Errorf("line %d: key %q is neither a tag number nor a known alias", number, key)
		}
		params[key] = value
	}

	for _, key := range mandatoryKeys[action] {
		if _, ok := params[key]; ok {
			continue
		}
		name := key
		for alias, actual := range keyAliases {
			if actual == key {
				name = key + "/" + alias
				break
			}
		}
		return Line{}, fmt.Errorf("line %d: key %s is mandatory for action %s", number, name, action)
	}

	return Line{Action: action, Params: params, Number: number, Label: label}, nil
}
