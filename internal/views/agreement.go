package views

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"portal/internal/upstream"
	id "portal/pkg/domain"
)

const (
	placeholderGroupName   = "{{GROUP_NAME}}"
	placeholderCompanyName = "{{COMPANY_NAME}}"

	defaultAgreementTitle = "Agreement"
	defaultGroupName      = "the group"
)

//go:embed templates/agreement_en.md
var agreementEN []byte

// Agreement is the rendered partnership agreement of one group.
type Agreement struct {
	Screen        string `json:"screen"`
	GroupID       string `json:"group_id"`
	GroupName     string `json:"group_name"`
	Title         string `json:"title"`
	HTML          string `json:"html"`
	AgreementLink string `json:"partnership_agreement_link,omitempty"`
	BackPath      string `json:"back_path"`
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// AgreementRenderer turns the Markdown agreement template into sanitized
// HTML for one group.
type AgreementRenderer struct {
	company string
	title   string
	body    string
	md      goldmark.Markdown
	policy  *bluemonday.Policy
}

// NewAgreementRenderer parses the embedded English template.
func NewAgreementRenderer(companyName string) (*AgreementRenderer, error) {
	return NewAgreementRendererFromTemplate(companyName, agreementEN)
}

// NewAgreementRendererFromTemplate parses tmpl: optional YAML front matter
// between "---" lines, then Markdown.
func NewAgreementRendererFromTemplate(companyName string, tmpl []byte) (*AgreementRenderer, error) {
	if strings.TrimSpace(companyName) == "" {
		return nil, errors.New("company name is required")
	}
	meta, body, err := splitFrontMatter(tmpl)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = defaultAgreementTitle
	}

	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &AgreementRenderer{
		company: companyName,
		title:   title,
		body:    body,
		md:      goldmark.New(),
		policy:  policy,
	}, nil
}

// Render fills the placeholders for the group and renders the result.
func (r *AgreementRenderer) Render(groupID id.GroupID, g *upstream.GroupDetails) (*Agreement, error) {
	name := strings.TrimSpace(string(g.GroupName))
	if name == "" {
		name = defaultGroupName
	}
	replacer := strings.NewReplacer(placeholderGroupName, name, placeholderCompanyName, r.company)

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(replacer.Replace(r.body)), &buf); err != nil {
		return nil, fmt.Errorf("render agreement: %w", err)
	}

	return &Agreement{
		Screen:        "agreement",
		GroupID:       groupID.String(),
		GroupName:     name,
		Title:         replacer.Replace(r.title),
		HTML:          string(r.policy.SanitizeBytes(buf.Bytes())),
		AgreementLink: string(g.PartnershipAgreementLink),
		BackPath:      "/group/" + groupID.String(),
	}, nil
}

func splitFrontMatter(tmpl []byte) (frontMatter, string, error) {
	var meta frontMatter
	text := strings.ReplaceAll(string(tmpl), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return meta, text, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, "", errors.New("agreement template: unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return meta, "", fmt.Errorf("agreement template front matter: %w", err)
	}
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}
