// Package htmlpage renders the small HTML pages shown at the end of the
// sign-in flow.
package htmlpage

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/markdown"
)

var shell = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Renderer turns Markdown page sources into complete, sanitised HTML pages.
type Renderer struct {
	md     *markdown.Renderer
	policy *bluemonday.Policy
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("pre", "code", "span")
	return &Renderer{md: markdown.NewRenderer(), policy: policy}
}

// Render renders source under title.
func (r *Renderer) Render(title, source string) ([]byte, error) {
	body, err := r.md.Render([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("render page %q: %w", title, err)
	}

	var buf bytes.Buffer
	err = shell.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(r.policy.SanitizeBytes(body)),
	})
	if err != nil {
		return nil, fmt.Errorf("render page %q: %w", title, err)
	}
	return buf.Bytes(), nil
}

// SignedIn is shown after a token was bound to login.
func (r *Renderer) SignedIn(login string) ([]byte, error) {
	return r.Render("Signed in", fmt.Sprintf(`# Signed in

You are signed in as **%s**. You can close this window and return to the editor.
`, markdown.Escape(login)))
}

// SessionExpired is shown when the token being bound is unknown or expired.
// baseURL is where a client requests a fresh token.
func (r *Renderer) SessionExpired(baseURL string) ([]byte, error) {
	return r.Render("Session expired", fmt.Sprintf(`# Session expired

This sign-in link is no longer valid. Start over from the editor, which
requests a new token:

`+"```shell"+`
curl -X POST %s/auth/request-token
`+"```"+`
`, baseURL))
}

// Failed is shown when the identity provider rejected the sign-in.
func (r *Renderer) Failed(reason string) ([]byte, error) {
	return r.Render("Sign-in failed", fmt.Sprintf(`# Sign-in failed

%s
`, markdown.Escape(reason)))
}
