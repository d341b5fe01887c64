package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mjmlgo "github.com/Boostport/mjml-go"
	"github.com/asaskevich/govalidator"
	"github.com/osteele/liquid"

	"github.com/Notifuse/dispatch/internal/domain"
)

// templateOptions describes the message every recipient receives
type templateOptions struct {
	Subject     string
	BodyPath    string
	TextPath    string
	FromAddress string
	FromName    string
	ReplyTo     string
}

// templateRenderer renders the liquid templates of a batch for each recipient
type templateRenderer struct {
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template

	fromAddress string
	fromName    string
	replyTo     string
}

// newTemplateRenderer parses the templates once. An .mjml body is compiled to HTML first.
func newTemplateRenderer(ctx context.Context, opts templateOptions) (*templateRenderer, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if !govalidator.IsEmail(opts.FromAddress) {
		return nil, fmt.Errorf("invalid from address %q", opts.FromAddress)
	}

	engine := liquid.NewEngine()
	r := &templateRenderer{
		fromAddress: opts.FromAddress,
		fromName:    opts.FromName,
		replyTo:     opts.ReplyTo,
	}

	var err error
	if r.subject, err = parseTemplate(engine, "subject", opts.Subject); err != nil {
		return nil, err
	}

	if opts.BodyPath != "" {
		body, err := os.ReadFile(opts.BodyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read body template: %w", err)
		}
		html := string(body)
		if strings.EqualFold(filepath.Ext(opts.BodyPath), ".mjml") {
			if html, err = mjmlgo.ToHTML(ctx, html); err != nil {
				return nil, fmt.Errorf("failed to compile MJML template: %w", err)
			}
		}
		if r.html, err = parseTemplate(engine, "body", html); err != nil {
			return nil, err
		}
	}

	if opts.TextPath != "" {
		text, err := os.ReadFile(opts.TextPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read text template: %w", err)
		}
		if r.text, err = parseTemplate(engine, "text", string(text)); err != nil {
			return nil, err
		}
	}

	if r.html == nil && r.text == nil {
		return nil, fmt.Errorf("a body or a text template is required")
	}
	return r, nil
}

func parseTemplate(engine *liquid.Engine, name, source string) (*liquid.Template, error) {
	tpl, err := engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", name, err)
	}
	return tpl, nil
}

// Render implements domain.RenderFunc. Malformed addresses fail here and the
// recipient is reported without any send attempt.
func (r *templateRenderer) Render(_ context.Context, recipient domain.Recipient) (*domain.Payload, error) {
	if !govalidator.IsEmail(recipient.Email) {
		return nil, fmt.Errorf("invalid email address %q", recipient.Email)
	}

	bindings := map[string]interface{}{
		"email": recipient.Email,
		"name":  recipient.Name,
		"data":  recipient.Data,
	}

	subject, err := r.subject.RenderString(bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	payload := &domain.Payload{
		FromAddress: r.fromAddress,
		FromName:    r.fromName,
		ReplyTo:     r.replyTo,
		Subject:     strings.TrimSpace(subject),
	}

	if r.html != nil {
		if payload.HTML, err = r.html.RenderString(bindings); err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}
	}
	if r.text != nil {
		if payload.Text, err = r.text.RenderString(bindings); err != nil {
			return nil, fmt.Errorf("failed to render text: %w", err)
		}
	}
	return payload, nil
}
