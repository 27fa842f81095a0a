package provision

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Requirement is one entry of a dependency manifest.
type Requirement struct {
	Name       string
	Extras     []string
	Constraint string
	Marker     string
	Hashes     []string
	Line       int
}

func (r Requirement) String() string {
	s := r.Name
	if len(r.Extras) > 0 {
		s += "[" + strings.Join(r.Extras, ",") + "]"
	}
	s += r.Constraint
	if r.Marker != "" {
		s += "; " + r.Marker
	}
	return s
}

// Manifest is the list of requirements read from a requirements file.
type Manifest struct {
	Path         string
	Requirements []Requirement
}

var (
	namePattern       = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	constraintPattern = regexp.MustCompile(`^(~=|===|==|!=|<=|>=|<|>)\s*[A-Za-z0-9.*+!_-]+$`)
	commentPattern    = regexp.MustCompile(`(^|\s)#`)
	optionPattern     = regexp.MustCompile(`\s--`)
	hashPattern       = regexp.MustCompile(`^[a-z0-9]+:[A-Fa-f0-9]+$`)
)

// Per-requirement options pip accepts after a requirement.
var requirementOptions = map[string]bool{
	"--hash":            true,
	"--config-settings": true,
	"--global-option":   true,
}

// ReadManifest parses the requirements file at path.
func ReadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses pip requirements syntax. Per-requirement options
// such as --hash are accepted; global options, includes and direct URL
// references are not.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	seen := map[string]int{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	var pending strings.Builder
	start := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if pending.Len() == 0 {
			start = lineNo
		}
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			continue
		}
		pending.WriteString(line)
		entry := pending.String()
		pending.Reset()

		req, ok, err := parseRequirement(entry)
		if err != nil {
			return Manifest{}, fmt.Errorf("line %d: %w", start, err)
		}
		if !ok {
			continue
		}
		key := normalizeName(req.Name)
		if prev, dup := seen[key]; dup {
			return Manifest{}, fmt.Errorf("line %d: %s already declared on line %d", start, req.Name, prev)
		}
		seen[key] = start
		req.Line = start
		m.Requirements = append(m.Requirements, req)
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, err
	}
	if pending.Len() > 0 {
		return Manifest{}, fmt.Errorf("line %d: unterminated line continuation", start)
	}
	return m, nil
}

func parseRequirement(line string) (Requirement, bool, error) {
	if loc := commentPattern.FindStringIndex(line); loc != nil {
		line = line[:loc[0]]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Requirement{}, false, nil
	}
	if strings.HasPrefix(line, "-") {
		return Requirement{}, false, fmt.Errorf("unsupported option %q", strings.Fields(line)[0])
	}

	var hashes []string
	if loc := optionPattern.FindStringIndex(line); loc != nil {
		var err error
		hashes, err = parseOptions(strings.Fields(line[loc[0]:]))
		if err != nil {
			return Requirement{}, false, err
		}
		line = strings.TrimSpace(line[:loc[0]])
	}
	if strings.Contains(line, "://") || strings.Contains(line, " @ ") {
		return Requirement{}, false, fmt.Errorf("direct references are not supported: %q", line)
	}

	var marker string
	if i := strings.Index(line, ";"); i >= 0 {
		marker = strings.TrimSpace(line[i+1:])
		line = strings.TrimSpace(line[:i])
		if marker == "" {
			return Requirement{}, false, fmt.Errorf("empty environment marker")
		}
	}

	parts := namePattern.FindStringSubmatch(line)
	if parts == nil {
		return Requirement{}, false, fmt.Errorf("invalid requirement %q", line)
	}
	req := Requirement{Name: parts[1], Marker: marker, Hashes: hashes}
	if extras := strings.TrimSpace(parts[2]); extras != "" {
		for _, e := range strings.Split(extras, ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				return Requirement{}, false, fmt.Errorf("invalid extras in %q", line)
			}
			req.Extras = append(req.Extras, e)
		}
	}

	rest := strings.TrimSpace(parts[3])
	if rest == "" {
		return req, true, nil
	}
	var clauses []string
	for _, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		if !constraintPattern.MatchString(clause) {
			return Requirement{}, false, fmt.Errorf("invalid version constraint %q for %s", clause, req.Name)
		}
		clauses = append(clauses, strings.ReplaceAll(clause, " ", ""))
	}
	req.Constraint = strings.Join(clauses, ",")
	return req, true, nil
}

// parseOptions validates the per-requirement options of one entry and
// returns its hashes. Options are written as --name=value or --name value.
func parseOptions(fields []string) ([]string, error) {
	var hashes []string
	for i := 0; i < len(fields); i++ {
		name, value, ok := strings.Cut(fields[i], "=")
		if !requirementOptions[name] {
			return nil, fmt.Errorf("unsupported option %q", name)
		}
		if !ok {
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("option %s needs a value", name)
			}
			i++
			value = fields[i]
		}
		if value == "" {
			return nil, fmt.Errorf("option %s needs a value", name)
		}
		if name == "--hash" {
			if !hashPattern.MatchString(value) {
				return nil, fmt.Errorf("invalid hash %q", value)
			}
			hashes = append(hashes, value)
		}
	}
	return hashes, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "-", ".", "-").Replace(name))
}
