package keyspace

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultReplication is the development replication map substituted whenever
// no override is supplied. It parses to SimpleStrategy with a factor of 1.
const DefaultReplication = "{ 'class': 'SimpleStrategy', 'replication_factor': 1 }"

// Replication class names understood by the parser.
const (
	ClassSimple  = "SimpleStrategy"
	ClassNetwork = "NetworkTopologyStrategy"
)

var datacenterPattern = regexp.MustCompile(`^[a-z0-9_]{2,}$`)

// Replication is the replication strategy of a keyspace. The set of
// implementations is closed: SimpleStrategy and NetworkTopologyStrategy.
type Replication interface {
	// Class returns the Cassandra replication class name.
	Class() string
	// String renders the strategy as a CQL replication map.
	String() string

	replication()
}

// SimpleStrategy places Factor replicas anywhere in the cluster. It provides
// no datacenter awareness and is meant for development clusters.
type SimpleStrategy struct {
	Factor uint8
}

// NetworkTopologyStrategy places replicas per datacenter.
type NetworkTopologyStrategy struct {
	DatacenterFactors map[string]uint8
}

func (SimpleStrategy) replication()          {}
func (NetworkTopologyStrategy) replication() {}

// Class returns ClassSimple
func (SimpleStrategy) Class() string { return ClassSimple }

// Class returns ClassNetwork
func (NetworkTopologyStrategy) Class() string { return ClassNetwork }

func (s SimpleStrategy) String() string {
	return "{'class': '" + ClassSimple + "', 'replication_factor': " + strconv.Itoa(int(s.Factor)) + "}"
}

func (n NetworkTopologyStrategy) String() string {
	var b strings.Builder
	b.WriteString("{'class': '" + ClassNetwork + "'")
	for _, dc := range n.Datacenters() {
		b.WriteString(", '")
		b.WriteString(dc)
		b.WriteString("': ")
		b.WriteString(strconv.Itoa(int(n.DatacenterFactors[dc])))
	}
	b.WriteString("}")
	return b.String()
}

// Datacenters returns the datacenter names in ascending order.
func (n NetworkTopologyStrategy) Datacenters() []string {
	names := make([]string, 0, len(n.DatacenterFactors))
	for dc := range n.DatacenterFactors {
		names = append(names, dc)
	}
	sort.Strings(names)
	return names
}

// ParseReplication parses the replication map of a CREATE KEYSPACE statement,
// e.g. "{ 'class': 'SimpleStrategy', 'replication_factor': 1 }". Keys and
// values may be single or double quoted; quoted text may contain commas and
// colons. Failures are returned as *ConfigError.
func ParseReplication(text string) (Replication, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, configErrorf("not a valid keyspace replication object")
	}

	fields, err := parseFields(trimmed[1 : len(trimmed)-1])
	if err != nil {
		return nil, err
	}

	class, ok := fields["class"]
	if !ok {
		return nil, configErrorf("replication object missing class field")
	}
	delete(fields, "class")

	switch class {
	case ClassSimple:
		value, ok := fields["replication_factor"]
		if !ok {
			return nil, configErrorf("replication object missing replication_factor field")
		}
		factor, err := parseFactor(value)
		if err != nil {
			return nil, configErrorf("replication factor %s must be a number", value)
		}
		return SimpleStrategy{Factor: factor}, nil
	case ClassNetwork:
		if len(fields) == 0 {
			return nil, configErrorf("network replication must specify at least one datacenter's replication factor")
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		factors := make(map[string]uint8, len(fields))
		for _, dc := range names {
			if !datacenterPattern.MatchString(dc) {
				return nil, configErrorf("datacenter %s is not a valid name", dc)
			}
			value := fields[dc]
			factor, err := parseFactor(value)
			if err != nil {
				return nil, configErrorf("replication factor %s for datacenter %s must be a number", dc, value)
			}
			factors[dc] = factor
		}
		return NetworkTopologyStrategy{DatacenterFactors: factors}, nil
	default:
		return nil, configErrorf("replication class %s field is an unsupported type", class)
	}
}

// MustParseReplication is like ParseReplication but panics on error.
func MustParseReplication(text string) Replication {
	r, err := ParseReplication(text)
	if err != nil {
		panic(err)
	}
	return r
}

func parseFactor(value string) (uint8, error) {
	n, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// parseFields splits the body of a replication object into unquoted key/value
// pairs. Separators inside quotes are treated as text.
func parseFields(body string) (map[string]string, error) {
	segments, ok := splitOutsideQuotes(body, ',', -1)
	if !ok {
		return nil, configErrorf("not a valid key-value pair in keyspace replication object")
	}

	fields := make(map[string]string, len(segments))
	for _, segment := range segments {
		pair, ok := splitOutsideQuotes(segment, ':', 2)
		if !ok || len(pair) != 2 {
			return nil, configErrorf("not a valid key-value pair in keyspace replication object")
		}
		key, keyOK := unquote(pair[0])
		value, valueOK := unquote(pair[1])
		if !keyOK || !valueOK || key == "" {
			return nil, configErrorf("not a valid key-value pair in keyspace replication object")
		}
		if _, dup := fields[key]; dup {
			return nil, configErrorf("replication object duplicates key-value pair %s", key)
		}
		fields[key] = value
	}
	return fields, nil
}

// splitOutsideQuotes splits s on sep, ignoring separators inside single or
// double quoted text. At most limit parts are returned when limit > 0. The
// second result is false when a quote is left open.
func splitOutsideQuotes(s string, sep byte, limit int) ([]string, bool) {
	var (
		parts []string
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep && (limit <= 0 || len(parts) < limit-1):
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, false
	}
	return append(parts, s[start:]), true
}

// unquote trims whitespace and strips one matching pair of surrounding quotes.
// A doubled quote inside single quoted text is the CQL escape for a quote.
func unquote(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	first := s[0]
	if first != '\'' && first != '"' {
		return s, !strings.ContainsAny(s, `'"`)
	}
	if len(s) < 2 || s[len(s)-1] != first {
		return "", false
	}
	inner := s[1 : len(s)-1]
	escaped := string([]byte{first, first})
	return strings.ReplaceAll(inner, escaped, string(first)), true
}
