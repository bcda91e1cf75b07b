package capability

// Set is an immutable collection of granted tokens, installed into a
// sandbox's checker once per execution (spec §4.6 step 3: "Install
// granted_capabilities into its checker").
type Set struct {
	tokens []Token
}

// NewSet parses and collects a set of capability token strings. Malformed
// tokens are dropped silently rather than failing the whole set, mirroring
// the spec's framing of capability grants as declarative and best-effort on
// the caller's side; callers that want strict validation should use
// ParseStrict.
func NewSet(raw []string) Set {
	var toks []Token
	for _, r := range raw {
		if t, err := Parse(r); err == nil {
			toks = append(toks, t)
		}
	}
	return Set{tokens: toks}
}

// ParseStrict is like NewSet but returns the first parse error encountered,
// for callers (e.g. config validation, tests) that want to surface malformed
// grants rather than silently drop them.
func ParseStrict(raw []string) (Set, error) {
	toks := make([]Token, 0, len(raw))
	for _, r := range raw {
		t, err := Parse(r)
		if err != nil {
			return Set{}, err
		}
		toks = append(toks, t)
	}
	return Set{tokens: toks}, nil
}

// Checker evaluates host calls against a granted Set. It is pure and
// allocation-light: Check performs no allocation on the hot path (spec §4.4).
//
// The zero value is a Checker with no grants (denies everything); it never
// panics, matching the "pure" requirement.
type Checker struct {
	granted Set
}

// NewChecker builds a Checker over a granted Set.
func NewChecker(granted Set) *Checker {
	return &Checker{granted: granted}
}

// Check reports whether the required token is satisfied by any granted
// token.
func (c *Checker) Check(required Token) bool {
	if c == nil {
		return false
	}
	for _, g := range c.granted.tokens {
		if g.Grants(required) {
			return true
		}
	}
	return false
}

func (c *Checker) CanReadState(key string) bool {
	return c.Check(Required(DomainState, ActionRead, key))
}

func (c *Checker) CanWriteState(key string) bool {
	return c.Check(Required(DomainState, ActionWrite, key))
}

// CanListStateKeys checks the dedicated "state:read:*" grant state_keys()
// requires (spec §4.5): a concrete per-key read grant does not imply the
// ability to enumerate all keys.
func (c *Checker) CanListStateKeys() bool {
	return c.Check(Required(DomainState, ActionRead, Wildcard))
}

func (c *Checker) CanEmitEvent(name string) bool {
	return c.Check(Required(DomainEvent, ActionEmit, name))
}

func (c *Checker) CanUpdateView(target string) bool {
	return c.Check(Required(DomainView, ActionUpdate, target))
}

// CanAccessExtension checks an "ext:<name>" grant. Per spec §4.4's grammar,
// the ext domain encodes the extension name in the action position (there is
// no read/write/emit/update distinction for extensions); "ext:*" grants every
// extension.
func (c *Checker) CanAccessExtension(name string) bool {
	return c.Check(Required(DomainExt, Action(name), ""))
}
