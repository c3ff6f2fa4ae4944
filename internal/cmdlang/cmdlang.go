// Package cmdlang tokenizes the small command language shared by job
// files and the interactive client: WRITE, READ, DELETE, SHOW, WAIT,
// BACKUP, SUBSCRIBE, UNSUBSCRIBE, DISCONNECT, HELP. This is explicitly
// out of core scope per spec §1 ("exact CLI/tokenizer/parser grammar
// is not specified"), but a runnable system needs some concrete
// grammar, so this package follows the bracketed-pair syntax the
// original client's parsing loop accepts.
package cmdlang

import (
	"fmt"
	"strconv"
	"strings"

	"kvsd/internal/store"
)

// Kind identifies which command a parsed line represents.
type Kind int

const (
	KindWrite Kind = iota
	KindRead
	KindDelete
	KindShow
	KindWait
	KindBackup
	KindSubscribe
	KindUnsubscribe
	KindDisconnect
	KindHelp
)

// Command is one parsed line, ready to execute against a store.Table
// or a session/dispatcher, depending on Kind.
type Command struct {
	Kind    Kind
	Pairs   []store.KV // WRITE
	Keys    []string   // READ, DELETE, SUBSCRIBE, UNSUBSCRIBE (single key)
	WaitFor int        // WAIT, milliseconds
}

// Parse tokenizes a single line of the command language. Blank lines
// and lines starting with '#' are treated as comments and return
// (Command{}, ErrComment) so callers can skip them without special
// casing whitespace themselves.
var ErrComment = fmt.Errorf("cmdlang: comment or blank line")

func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, ErrComment
	}

	verb, rest := splitVerb(line)
	switch strings.ToUpper(verb) {
	case "WRITE":
		pairs, err := parsePairs(rest)
		if err != nil {
			return Command{}, fmt.Errorf("WRITE: %w", err)
		}
		return Command{Kind: KindWrite, Pairs: pairs}, nil
	case "READ":
		keys, err := parseKeys(rest)
		if err != nil {
			return Command{}, fmt.Errorf("READ: %w", err)
		}
		return Command{Kind: KindRead, Keys: keys}, nil
	case "DELETE":
		keys, err := parseKeys(rest)
		if err != nil {
			return Command{}, fmt.Errorf("DELETE: %w", err)
		}
		return Command{Kind: KindDelete, Keys: keys}, nil
	case "SHOW":
		return Command{Kind: KindShow}, nil
	case "WAIT":
		ms, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return Command{}, fmt.Errorf("WAIT: invalid delay %q: %w", rest, err)
		}
		return Command{Kind: KindWait, WaitFor: ms}, nil
	case "BACKUP":
		return Command{Kind: KindBackup}, nil
	case "SUBSCRIBE":
		key := strings.TrimSpace(rest)
		if key == "" {
			return Command{}, fmt.Errorf("SUBSCRIBE: missing key")
		}
		return Command{Kind: KindSubscribe, Keys: []string{key}}, nil
	case "UNSUBSCRIBE":
		key := strings.TrimSpace(rest)
		if key == "" {
			return Command{}, fmt.Errorf("UNSUBSCRIBE: missing key")
		}
		return Command{Kind: KindUnsubscribe, Keys: []string{key}}, nil
	case "DISCONNECT":
		return Command{Kind: KindDisconnect}, nil
	case "HELP":
		return Command{Kind: KindHelp}, nil
	default:
		return Command{}, fmt.Errorf("cmdlang: unknown command %q", verb)
	}
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// parsePairs parses "[(k1,v1)(k2,v2)]" into a list of KV pairs.
func parsePairs(s string) ([]store.KV, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no key-value pairs given")
	}

	var pairs []store.KV
	for len(s) > 0 {
		if s[0] != '(' {
			return nil, fmt.Errorf("expected '(' at %q", s)
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, fmt.Errorf("unterminated pair at %q", s)
		}
		inner := s[1:end]
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected key,value in %q", inner)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := validateToken(key); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if err := validateToken(value); err != nil {
			return nil, fmt.Errorf("value %q: %w", value, err)
		}
		pairs = append(pairs, store.KV{Key: key, Value: value})
		s = strings.TrimSpace(s[end+1:])
	}
	return pairs, nil
}

// parseKeys parses "[k1,k2,k3]" into a list of bare keys.
func parseKeys(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no keys given")
	}
	rawKeys := strings.Split(s, ",")
	keys := make([]string, 0, len(rawKeys))
	for _, k := range rawKeys {
		k = strings.TrimSpace(k)
		if err := validateToken(k); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func validateToken(tok string) error {
	if tok == "" {
		return fmt.Errorf("empty token")
	}
	if len(tok) > 40 {
		return fmt.Errorf("exceeds MAX_STRING_SIZE (40)")
	}
	return nil
}
