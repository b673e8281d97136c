// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package digest

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
)

// bodyTemplate is the plaintext digest layout.
const bodyTemplate = `Hello{{if .Name}} {{.Name}}{{end}},

Here are {{len .Papers}} papers picked for you on {{.Date}}:
{{range $i, $p := .Papers}}
{{inc $i}}. {{$p.Title}}
{{- if $p.Authors}}
   {{join $p.Authors ", "}}
{{- end}}
   {{$p.URL}}
{{- if $p.Abstract}}
   {{truncate $p.Abstract}}
{{- end}}
{{end}}
You receive this digest because of your paperscope subscriptions{{if .Subscriptions}} ({{join .Subscriptions ", "}}){{end}}.
`

// Renderer produces subject and plaintext body for one digest.
type Renderer struct {
	tmpl          *template.Template
	subjectPrefix string
}

// NewRenderer parses the digest template against the config.
func NewRenderer(cfg config.DigestConfig) (*Renderer, error) {
	limit := cfg.AbstractLimit
	if limit <= 0 {
		limit = 400
	}

	tmpl, err := template.New("digest").Funcs(template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"join": strings.Join,
		"truncate": func(s string) string {
			s = strings.Join(strings.Fields(s), " ")
			if len(s) <= limit {
				return s
			}
			cut := strings.LastIndex(s[:limit], " ")
			if cut <= 0 {
				cut = limit
			}
			return s[:cut] + "…"
		},
	}).Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse digest template: %w", err)
	}

	return &Renderer{
		tmpl:          tmpl,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

// Render produces the subject line and body for one user's papers.
func (r *Renderer) Render(user catalog.User, papers []catalog.Paper) (subject, body string, err error) {
	date := time.Now().Format("January 2, 2006")
	subject = fmt.Sprintf("%s: %d papers for you", r.subjectPrefix, len(papers))

	name := user.Email
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}

	var buf strings.Builder
	err = r.tmpl.Execute(&buf, struct {
		Name          string
		Date          string
		Papers        []catalog.Paper
		Subscriptions []string
	}{
		Name:          name,
		Date:          date,
		Papers:        papers,
		Subscriptions: user.Subscriptions,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render digest: %w", err)
	}
	return subject, buf.String(), nil
}
