package commands

import (
	"sort"
	"strings"
	"sync"
)

// DefaultRegistry holds the chat commands. Handlers add themselves from
// init.
var DefaultRegistry = NewRegistry()

// maxSuggestDistance bounds the edit distance of "did you mean" hints.
const maxSuggestDistance = 2

// Registry resolves command names, aliases and unique prefixes to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

// Register adds h under its name and aliases. A later handler with the
// same name replaces the earlier one.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := h.Entry()
	r.handlers[e.Name] = h
	for _, a := range e.Aliases {
		r.aliases[a] = e.Name
	}
}

// Lookup finds the handler for name. Exact names win over aliases, and
// aliases over prefixes; a prefix must match exactly one command.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(name)
	if h, ok := r.handlers[name]; ok {
		return h, true
	}
	if target, ok := r.aliases[name]; ok {
		return r.handlers[target], true
	}

	var match Handler
	for n, h := range r.handlers {
		if !strings.HasPrefix(n, name) {
			continue
		}
		if match != nil {
			return nil, false
		}
		match = h
	}
	return match, match != nil
}

// Execute runs cmd. Unknown commands fail with the closest names as a hint.
func (r *Registry) Execute(ctx *Context, cmd *Command) Result {
	h, ok := r.Lookup(cmd.Name)
	if !ok {
		msg := "Unknown command: /" + cmd.Name
		if s := r.Suggest(cmd.Name); len(s) > 0 {
			usages := make([]string, len(s))
			for i, e := range s {
				usages[i] = e.Usage
			}
			return failure(msg + " (did you mean " + strings.Join(usages, " or ") + "?)")
		}
		return failure(msg + " (type /help for available commands)")
	}
	return h.Execute(ctx, cmd.Args)
}

// Entries returns the registered commands sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Entry())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Suggest returns the commands whose name shares a prefix with name or is
// within a small edit distance of it, closest first.
func (r *Registry) Suggest(name string) []Entry {
	name = strings.ToLower(name)
	type candidate struct {
		entry Entry
		dist  int
	}
	var found []candidate
	for _, e := range r.Entries() {
		d := editDistance(name, e.Name)
		if strings.HasPrefix(e.Name, name) || strings.HasPrefix(name, e.Name) {
			d = 0
		}
		if d <= maxSuggestDistance {
			found = append(found, candidate{e, d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })

	out := make([]Entry, len(found))
	for i, c := range found {
		out[i] = c.entry
	}
	return out
}

// Complete returns the candidates starting with prefix, ignoring case. An
// exact match is returned alone.
func Complete(candidates []string, prefix string) []string {
	p := strings.ToLower(prefix)
	var out []string
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if lc == p {
			return []string{c}
		}
		if strings.HasPrefix(lc, p) {
			out = append(out, c)
		}
	}
	return out
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// ParseCommand splits a slash command line. Double-quoted arguments may
// contain spaces, so thread ids like "incident 42" survive. It returns nil
// for lines that are not commands.
func ParseCommand(input string) *Command {
	if !strings.HasPrefix(input, "/") {
		return nil
	}
	fields := splitArgs(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 || fields[0] == "" {
		return nil
	}
	return &Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

func splitArgs(s string) []string {
	var (
		out     []string
		b       strings.Builder
		quoted  bool
		started bool
	)
	for _, c := range s {
		switch {
		case c == '"':
			quoted = !quoted
			started = true
		case (c == ' ' || c == '\t') && !quoted:
			if started {
				out = append(out, b.String())
				b.Reset()
				started = false
			}
		default:
			b.WriteRune(c)
			started = true
		}
	}
	if started {
		out = append(out, b.String())
	}
	return out
}
