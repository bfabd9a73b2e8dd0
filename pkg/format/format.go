// Package format renders a trace summary into the title, body and culprit key of an issue.
package format

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/exreporter/pkg/trace"
)

// ErrUnknownPlaceholder is returned when a template references a name it was not given.
var ErrUnknownPlaceholder = errors.New("template references an unknown placeholder")

// Placeholder names available to each template.
const (
	FilePath    = "filepath"
	LineNo      = "lineno"
	Exception   = "exception"
	FileName    = "filename"
	MethodName  = "method_name"
	StackTrace  = "stack_trace"
	LocalsData  = "locals_data"
	RequestData = "request_data"
)

// Templates are text/template sources. Each one may reference only its own
// placeholders, e.g. {{.filepath}} in Culprit. Empty fields use the defaults.
type Templates struct {
	Culprit string `mapstructure:"culprit" yaml:"culprit"`
	Title   string `mapstructure:"title" yaml:"title"`
	Body    string `mapstructure:"body" yaml:"body"`
	Locals  string `mapstructure:"locals" yaml:"locals"`
	Request string `mapstructure:"request" yaml:"request"`
}

// DefaultTemplates reproduce the classic issue layout.
var DefaultTemplates = Templates{
	Culprit: "`Culprit- {{.filepath}}>{{.lineno}}>{{.exception}}`",
	Title:   "{{.exception}} - {{.filename}}::{{.method_name}}",
	Body:    "\nFollowing exception occurred:\n\n```\n{{.stack_trace}}\n```\n",
	Locals:  "\nLocals:\n```json\n{{.locals_data}}\n```\n\n",
	Request: "\nRequest Data:\n\n```\n{{.request_data}}\n```\n",
}

var placeholders = map[string][]string{
	"culprit": {FilePath, LineNo, Exception},
	"title":   {Exception, FileName, MethodName},
	"body":    {StackTrace},
	"locals":  {LocalsData},
	"request": {RequestData},
}

// Content is a rendered report. Culprit is the deduplication key and always
// closes Body.
type Content struct {
	Title   string
	Body    string
	Culprit string
}

// Extras are the per-report additions to the body.
type Extras struct {
	IncludeLocals bool
	ExtraContent  string
	// Request is rendered when non-nil. *http.Request gets a header dump.
	Request any
}

// Formatter holds compiled templates. It is safe for concurrent use.
type Formatter struct {
	culprit, title, body, locals, request *template.Template
}

// New compiles t, filling empty fields from DefaultTemplates. Every field
// reference is checked, including those in branches a dry run never reaches,
// so a bad placeholder is reported here rather than mid-report.
func New(t Templates) (*Formatter, error) {
	t = t.withDefaults()
	f := &Formatter{}
	for _, spec := range []struct {
		name string
		src  string
		dst  **template.Template
	}{
		{"culprit", t.Culprit, &f.culprit},
		{"title", t.Title, &f.title},
		{"body", t.Body, &f.body},
		{"locals", t.Locals, &f.locals},
		{"request", t.Request, &f.request},
	} {
		tmpl, err := template.New(spec.name).Option("missingkey=error").Parse(spec.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s template: %w", spec.name, err)
		}
		if name, ok := unknownField(tmpl, placeholders[spec.name]); !ok {
			return nil, fmt.Errorf("%w: %s template references %q, may use %s",
				ErrUnknownPlaceholder, spec.name, name, strings.Join(placeholders[spec.name], ", "))
		}
		sample := make(map[string]any, len(placeholders[spec.name]))
		for _, key := range placeholders[spec.name] {
			sample[key] = ""
		}
		if err := tmpl.Execute(&strings.Builder{}, sample); err != nil {
			return nil, fmt.Errorf("%w: %s template may use %s: %v",
				ErrUnknownPlaceholder, spec.name, strings.Join(placeholders[spec.name], ", "), err)
		}
		*spec.dst = tmpl
	}
	return f, nil
}

// Culprit renders the deduplication key for s. It depends only on the culprit
// file, line and exception kind. Double quotes become single quotes, since the
// key is searched for as a quoted phrase.
func (f *Formatter) Culprit(s *trace.Summary) (string, error) {
	key, err := execute(f.culprit, map[string]any{
		FilePath:  s.Culprit.File,
		LineNo:    strconv.Itoa(s.Culprit.Line),
		Exception: s.Kind,
	})
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(key, `"`, "'"), nil
}

// Format renders s into a Content. The body is assembled in a fixed order:
// stack trace, locals, extra content, request, culprit line.
func (f *Formatter) Format(s *trace.Summary, x Extras) (Content, error) {
	culprit, err := f.Culprit(s)
	if err != nil {
		return Content{}, err
	}

	title, err := execute(f.title, map[string]any{
		Exception:  s.Kind,
		FileName:   path.Base(filepath.ToSlash(s.Culprit.File)),
		MethodName: trace.ShortFunction(s.Culprit.Function),
	})
	if err != nil {
		return Content{}, err
	}

	body, err := execute(f.body, map[string]any{StackTrace: s.Stack})
	if err != nil {
		return Content{}, err
	}

	if x.IncludeLocals {
		locals, err := execute(f.locals, map[string]any{LocalsData: renderLocals(s.Culprit.Locals)})
		if err != nil {
			return Content{}, err
		}
		body = body + " " + locals
	}

	if x.ExtraContent != "" {
		body = body + "\n\nExtra Content:\n" + x.ExtraContent
	}

	if x.Request != nil {
		req, err := execute(f.request, map[string]any{RequestData: RenderRequest(x.Request)})
		if err != nil {
			return Content{}, err
		}
		body = body + " " + req
	}

	body = body + "\n\n" + culprit + "\n"
	return Content{Title: title, Body: body, Culprit: culprit}, nil
}

// unknownField walks every tree of tmpl and returns the first referenced
// name that is not in allowed.
func unknownField(tmpl *template.Template, allowed []string) (string, bool) {
	known := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		known[a] = true
	}
	for _, t := range tmpl.Templates() {
		if t.Tree == nil {
			continue
		}
		if name, ok := walkFields(t.Tree.Root, known); !ok {
			return name, false
		}
	}
	return "", true
}

func walkFields(node parse.Node, known map[string]bool) (string, bool) {
	var children []parse.Node
	switch n := node.(type) {
	case nil:
		return "", true
	case *parse.FieldNode:
		if !known[n.Ident[0]] {
			return n.Ident[0], false
		}
	case *parse.VariableNode:
		// $.name reaches the root data.
		if n.Ident[0] == "$" && len(n.Ident) > 1 && !known[n.Ident[1]] {
			return n.Ident[1], false
		}
	case *parse.ChainNode:
		children = append(children, n.Node)
	case *parse.ListNode:
		if n != nil {
			for _, c := range n.Nodes {
				children = append(children, c)
			}
		}
	case *parse.ActionNode:
		children = append(children, n.Pipe)
	case *parse.PipeNode:
		if n != nil {
			for _, c := range n.Cmds {
				children = append(children, c)
			}
		}
	case *parse.CommandNode:
		children = append(children, n.Args...)
	case *parse.IfNode:
		children = append(children, n.Pipe, n.List, n.ElseList)
	case *parse.RangeNode:
		children = append(children, n.Pipe, n.List, n.ElseList)
	case *parse.WithNode:
		children = append(children, n.Pipe, n.List, n.ElseList)
	case *parse.TemplateNode:
		children = append(children, n.Pipe)
	}
	for _, c := range children {
		if name, ok := walkFields(c, known); !ok {
			return name, false
		}
	}
	return "", true
}

func (t Templates) withDefaults() Templates {
	if t.Culprit == "" {
		t.Culprit = DefaultTemplates.Culprit
	}
	if t.Title == "" {
		t.Title = DefaultTemplates.Title
	}
	if t.Body == "" {
		t.Body = DefaultTemplates.Body
	}
	if t.Locals == "" {
		t.Locals = DefaultTemplates.Locals
	}
	if t.Request == "" {
		t.Request = DefaultTemplates.Request
	}
	return t
}

func execute(t *template.Template, data map[string]any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", t.Name(), err)
	}
	return b.String(), nil
}

// renderLocals prints locals as indented JSON. Map keys are sorted, so the output
// is stable.
func renderLocals(locals map[string]string) string {
	if len(locals) == 0 {
		return "{}"
	}
	out, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(locals, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", locals)
	}
	return string(out)
}

var redactedHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// RenderRequest describes the request a failure happened in. An *http.Request is
// dumped without its body and with credentials redacted.
func RenderRequest(req any) string {
	switch r := req.(type) {
	case *http.Request:
		clone := r.Clone(r.Context())
		clone.Body = nil
		for _, h := range redactedHeaders {
			if clone.Header.Get(h) != "" {
				clone.Header.Set(h, "[redacted]")
			}
		}
		dump, err := httputil.DumpRequest(clone, false)
		if err != nil {
			return fmt.Sprintf("%s %s", r.Method, r.URL)
		}
		return strings.TrimRight(string(dump), "\r\n")
	case fmt.Stringer:
		return r.String()
	case map[string]string:
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = k + ": " + r[k]
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%+v", r)
	}
}
