package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const defaultPreamble = `[Context]
{{- with .UserID }}
User: {{ . }}{{ end }}
{{- with .Email }}
Email: {{ . }}{{ end }}
{{- with .AccountName }}
Account: {{ . }}{{ end }}
{{- if .AdAccountIDs }}
Ad accounts: {{ join ", " .AdAccountIDs }}{{ end }}
Ad platform token: {{ ternary "available" "not available" .HasAdToken }}
Mode: {{ .Mode | default "chat" }}
[/Context]`

// preambleData is what the preamble template sees. It never holds the token itself.
type preambleData struct {
	UserID       string
	Email        string
	AccountName  string
	AdAccountIDs []string
	HasAdToken   bool
	Mode         string
}

type preambleRenderer struct {
	tmpl *template.Template
}

func newPreambleRenderer(text string) (*preambleRenderer, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultPreamble
	}
	tmpl, err := template.New("preamble").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preamble template: %w", err)
	}
	return &preambleRenderer{tmpl: tmpl}, nil
}

// Render returns the preamble for caller, or "" when the caller carries no identity
func (r *preambleRenderer) Render(caller CallerContext, mode string) (string, error) {
	if caller.UserID == "" && caller.Email == "" && caller.AccountName == "" &&
		len(caller.AdAccountIDs) == 0 && caller.AdToken == "" {
		return "", nil
	}
	data := preambleData{
		UserID:       caller.UserID,
		Email:        caller.Email,
		AccountName:  caller.AccountName,
		AdAccountIDs: caller.AdAccountIDs,
		HasAdToken:   caller.AdToken != "",
		Mode:         mode,
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
