package locator

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dev/bravebird/flow-verify/pkg/models"
)

//go:embed resolver.js
var resolverJS string

// implicitRoles maps ARIA roles to the elements that carry them without an explicit role attribute
var implicitRoles = map[string][]string{
	"heading":    {"h1", "h2", "h3", "h4", "h5", "h6"},
	"button":     {"button", "input[type=button]", "input[type=submit]", "input[type=reset]", "summary"},
	"link":       {"a[href]", "area[href]"},
	"dialog":     {"dialog"},
	"textbox":    {"input:not([type])", "input[type=text]", "input[type=email]", "input[type=tel]", "input[type=url]", "textarea"},
	"checkbox":   {"input[type=checkbox]"},
	"radio":      {"input[type=radio]"},
	"combobox":   {"select"},
	"list":       {"ul", "ol"},
	"listitem":   {"li"},
	"img":        {"img[alt]"},
	"form":       {"form"},
	"table":      {"table"},
	"row":        {"tr"},
	"navigation": {"nav"},
	"main":       {"main"},
	// Explicit-only roles used by tab widgets and tooltips
	"tab":         nil,
	"tablist":     nil,
	"tabpanel":    nil,
	"tooltip":     nil,
	"alertdialog": nil,
	"menuitem":    nil,
}

var errEmptyLocator = errors.New("locator needs one of role, tooltip or css")

// Query is the compiled form of a locator handed to the in-page resolver
type Query struct {
	Selector string `json:"selector"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Exact    bool   `json:"exact,omitempty"`
	Tooltip  string `json:"tooltip,omitempty"`
	Has      *Query `json:"has,omitempty"`
	Within   *Query `json:"within,omitempty"`
}

// KnownRole reports whether role is in the role table
func KnownRole(role string) bool {
	_, ok := implicitRoles[role]
	return ok
}

// RoleSelector returns the CSS selector gathering every candidate for role
func RoleSelector(role string) string {
	parts := append([]string{}, implicitRoles[role]...)
	parts = append(parts, fmt.Sprintf("[role=%q]", role))
	return strings.Join(parts, ", ")
}

// Validate checks that a locator selects by exactly one strategy
func Validate(l models.Locator) error {
	set := 0
	for _, v := range []string{l.Role, l.Tooltip, l.CSS} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return errEmptyLocator
	case set > 1:
		return fmt.Errorf("locator %s mixes role, tooltip and css", Describe(l))
	}
	if l.Name != "" && l.Role == "" {
		return fmt.Errorf("locator %s sets a name without a role", Describe(l))
	}
	if l.Role != "" && !KnownRole(l.Role) {
		return fmt.Errorf("unknown role %q", l.Role)
	}
	if l.Has != nil {
		if err := Validate(*l.Has); err != nil {
			return fmt.Errorf("has: %w", err)
		}
	}
	if l.Within != nil {
		if err := Validate(*l.Within); err != nil {
			return fmt.Errorf("within: %w", err)
		}
	}
	return nil
}

// Compile turns a locator into the query the resolver evaluates
func Compile(l models.Locator) (*Query, error) {
	if err := Validate(l); err != nil {
		return nil, err
	}
	return compile(l), nil
}

func compile(l models.Locator) *Query {
	q := &Query{Exact: l.Exact}
	switch {
	case l.Role != "":
		q.Selector = RoleSelector(l.Role)
		q.Role = l.Role
		q.Name = l.Name
	case l.Tooltip != "":
		q.Selector = "[title], [data-tooltip], [aria-describedby]"
		q.Tooltip = l.Tooltip
	default:
		q.Selector = l.CSS
	}
	if l.Has != nil {
		q.Has = compile(*l.Has)
	}
	if l.Within != nil {
		q.Within = compile(*l.Within)
	}
	return q
}

// Describe renders a locator the way it reads in automation scripts
func Describe(l models.Locator) string {
	var sb strings.Builder
	if l.Within != nil {
		sb.WriteString(Describe(*l.Within))
		sb.WriteString(".")
	}
	switch {
	case l.Role != "" && l.Name != "":
		fmt.Fprintf(&sb, "getByRole(%q, name=%q)", l.Role, l.Name)
	case l.Role != "":
		fmt.Fprintf(&sb, "getByRole(%q)", l.Role)
	case l.Tooltip != "":
		fmt.Fprintf(&sb, "getByTooltip(%q)", l.Tooltip)
	default:
		fmt.Fprintf(&sb, "locator(%q)", l.CSS)
	}
	if l.Has != nil {
		fmt.Fprintf(&sb, ".filter(has=%s)", Describe(*l.Has))
	}
	return sb.String()
}

// SelectorEngine is the name the resolver is registered under as a Playwright selector engine
const SelectorEngine = "flowverify"

// SelectorEngineJS returns the resolver wrapped as a Playwright selector engine.
// The selector body is a JSON encoded Query.
func SelectorEngineJS() string {
	return fmt.Sprintf(`({
  query(root, selector) { return this.queryAll(root, selector)[0] || null; },
  queryAll(root, selector) { return (%s)(JSON.parse(selector), root); }
})`, resolverJS)
}

// EngineSelector returns the Playwright selector resolving l through SelectorEngine
func EngineSelector(l models.Locator) (string, error) {
	q, err := Compile(l)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return SelectorEngine + "=" + string(body), nil
}

// ResolverJS returns the resolver as a JS function of (query, root) returning matching elements
func ResolverJS() string {
	return resolverJS
}

// QueryJS returns a JS function of (query) returning the matching elements of the document
func QueryJS() string {
	return fmt.Sprintf("(q) => (%s)(q, document)", resolverJS)
}

// ProbeJS returns a polling predicate of (query, want, mark).
// It yields {count, visible} once the match count exceeds one or the wanted
// state ("visible" or "hidden") is reached, and false otherwise. When mark is
// set and the target turned visible, the element gets data-flowverify-target=mark.
func ProbeJS() string {
	return fmt.Sprintf(`(q, want, mark) => {
  const els = (%s)(q, document);
  if (els.length > 1) return { count: els.length, visible: false };
  let visible = false;
  if (els.length === 1) {
    const st = getComputedStyle(els[0]);
    const r = els[0].getBoundingClientRect();
    visible = st.visibility !== 'hidden' && r.width > 0 && r.height > 0;
  }
  if (want === 'visible' ? !visible : visible) return false;
  if (visible && mark) els[0].setAttribute('%s', mark);
  return { count: els.length, visible: visible };
}`, resolverJS, MarkAttribute)
}

// MarkAttribute is set by ProbeJS on the element a driver is about to act on
const MarkAttribute = "data-flowverify-target"

// JSON encodes a query for drivers that inline it into expressions
func (q *Query) JSON() string {
	b, _ := json.Marshal(q)
	return string(b)
}
