package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
	"github.com/jwalitptl/outreach-engine/pkg/validator"
)

// Resolver turns a step's content source into a subject and body.
type Resolver struct {
	templates     repository.TemplateRepository
	organizations repository.OrganizationRepository
	generator     ContentGenerator
	validator     validator.Validator
}

func NewResolver(templates repository.TemplateRepository, organizations repository.OrganizationRepository, generator ContentGenerator) *Resolver {
	return &Resolver{
		templates:     templates,
		organizations: organizations,
		generator:     generator,
		validator:     validator.New(),
	}
}

func (r *Resolver) Resolve(ctx context.Context, step model.Step, seq *model.Sequence, contact *model.Contact) (*model.MessageContent, error) {
	switch src := step.Content.(type) {
	case model.TemplateContent:
		return r.fromTemplate(ctx, src, seq)
	case model.PromptContent:
		return r.fromPrompt(ctx, src, seq, contact)
	default:
		return nil, apperrors.ErrMissingContentSource
	}
}

func (r *Resolver) fromTemplate(ctx context.Context, src model.TemplateContent, seq *model.Sequence) (*model.MessageContent, error) {
	tpl, err := r.templates.Get(ctx, src.TemplateID, seq.OrganizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrTemplateNotFound, fmt.Errorf("template %s", src.TemplateID))
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return &model.MessageContent{Subject: tpl.Subject, Body: tpl.Body}, nil
}

func (r *Resolver) fromPrompt(ctx context.Context, src model.PromptContent, seq *model.Sequence, contact *model.Contact) (*model.MessageContent, error) {
	if r.generator == nil {
		return nil, apperrors.Wrap(apperrors.ErrContentGenerationFailed, errors.New("no content generator configured"))
	}

	senderName := ""
	org, err := r.organizations.Get(ctx, seq.OrganizationID)
	switch {
	case err == nil:
		senderName = org.Name
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.Wrap(apperrors.ErrContentGenerationFailed, err)
	}

	raw, err := r.generator.GenerateJSON(ctx, systemPrompt(senderName), userPrompt(src.Prompt, contact))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrContentGenerationFailed, err)
	}
	content, err := r.parseGenerated(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrContentGenerationFailed, err)
	}
	return content, nil
}

type generatedMessage struct {
	Subject string `json:"subject" validate:"required,max=300"`
	Body    string `json:"body" validate:"required"`
}

func (r *Resolver) parseGenerated(raw string) (*model.MessageContent, error) {
	var msg generatedMessage
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &msg); err != nil {
		return nil, fmt.Errorf("malformed generated content: %w", err)
	}
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Body = strings.TrimSpace(msg.Body)
	if err := r.validator.Validate(msg); err != nil {
		return nil, fmt.Errorf("incomplete generated content: %w", err)
	}
	return &model.MessageContent{Subject: msg.Subject, Body: msg.Body}, nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func systemPrompt(senderName string) string {
	var b strings.Builder
	b.WriteString("You write short, personal outreach emails")
	if senderName != "" {
		fmt.Fprintf(&b, " on behalf of %s", senderName)
	}
	b.WriteString(".\n")
	b.WriteString(`Reply with a single JSON object with exactly two string fields: "subject" and "body". `)
	b.WriteString("The body is simple HTML paragraphs. Do not add a signature placeholder.")
	return b.String()
}

func userPrompt(prompt string, c *model.Contact) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRecipient:\n")
	writeField(&b, "Name", c.FullName())
	writeField(&b, "Company", c.Company)
	writeField(&b, "Title", c.Title)
	writeField(&b, "Status", c.Status)
	fmt.Fprintf(&b, "- Engagement score: %d\n", c.EngagementScore)

	if len(c.RecentActivity) > 0 {
		b.WriteString("\nRecent activity (newest first):\n")
		for i, a := range c.RecentActivity {
			if i == repository.RecentActivityLimit {
				break
			}
			fmt.Fprintf(&b, "- %s %s", a.CreatedAt.Format("2006-01-02"), a.Type)
			if a.Description != "" {
				fmt.Fprintf(&b, ": %s", a.Description)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
