package notify

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/flosch/pongo2/v6"

	identity "github.com/goliatone/go-identity"
)

//go:embed templates/*
var defaultTemplates embed.FS

type template struct {
	subject *pongo2.Template
	html    *pongo2.Template
}

// Templates renders notifications with pongo2. Each kind needs a
// "<kind>.subject.txt" and a "<kind>.html" template.
type Templates struct {
	byKind map[identity.NotificationKind]template
}

// DefaultTemplates returns the embedded templates.
func DefaultTemplates() (*Templates, error) {
	sub, err := fs.Sub(defaultTemplates, "templates")
	if err != nil {
		return nil, err
	}
	return LoadTemplates(sub)
}

// LoadTemplatesDir loads templates from a directory. Kinds missing from dir
// fall back to the embedded templates.
func LoadTemplatesDir(dir string) (*Templates, error) {
	defaults, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return defaults, nil
	}
	custom, err := loadTemplates(os.DirFS(dir), true)
	if err != nil {
		return nil, err
	}
	for kind, tpl := range custom.byKind {
		defaults.byKind[kind] = tpl
	}
	return defaults, nil
}

// LoadTemplates loads every notification kind from fsys.
func LoadTemplates(fsys fs.FS) (*Templates, error) {
	return loadTemplates(fsys, false)
}

func loadTemplates(fsys fs.FS, partial bool) (*Templates, error) {
	t := &Templates{byKind: map[identity.NotificationKind]template{}}
	for _, kind := range Kinds() {
		subject, errSubject := compile(fsys, string(kind)+".subject.txt")
		html, errHTML := compile(fsys, string(kind)+".html")
		if partial && (errSubject != nil || errHTML != nil) {
			continue
		}
		if errSubject != nil {
			return nil, errSubject
		}
		if errHTML != nil {
			return nil, errHTML
		}
		t.byKind[kind] = template{subject: subject, html: html}
	}
	return t, nil
}

func compile(fsys fs.FS, name string) (*pongo2.Template, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("notify: read template %s: %w", name, err)
	}
	tpl, err := pongo2.FromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("notify: parse template %s: %w", name, err)
	}
	return tpl, nil
}

// Render returns the subject and HTML body of n.
func (t *Templates) Render(n identity.Notification) (string, string, error) {
	tpl, ok := t.byKind[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("notify: no template for %s", n.Kind)
	}

	ctx := pongo2.Context{"kind": string(n.Kind), "accountId": n.AccountID}
	for k, v := range n.Data {
		ctx[k] = v
	}

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return "", "", fmt.Errorf("notify: render subject of %s: %w", n.Kind, err)
	}
	body, err := tpl.html.Execute(ctx)
	if err != nil {
		return "", "", fmt.Errorf("notify: render body of %s: %w", n.Kind, err)
	}
	return strings.TrimSpace(subject), body, nil
}

// Kinds lists the notification kinds templates must cover.
func Kinds() []identity.NotificationKind {
	return []identity.NotificationKind{
		identity.NotificationRegistrationReceived,
		identity.NotificationReviewRequired,
		identity.NotificationAccountActivated,
		identity.NotificationAccountRejected,
	}
}
