// Package content produces warmup email subjects and bodies. Templates
// are rendered with liquid so variable pools can be swapped without code
// changes, and every rendered mail is self-checked against a spam-word
// list before it goes out.
package content

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/osteele/liquid"
)

// maxSubjectLen bounds rendered subjects; anything longer is truncated.
const maxSubjectLen = 500

// spamWords is the self-check list. A rendered template containing any of
// these is rejected and redrawn, since tripping content filters defeats
// the warmup.
var spamWords = []string{
	"free money", "act now", "limited time", "click here", "winner",
	"guarantee", "no obligation", "risk free", "urgent", "100% free",
	"cash bonus", "earn extra", "lowest price", "once in a lifetime",
}

var subjectTemplates = []string{
	"Quick question about {{ topic }}",
	"Thoughts on {{ topic }}?",
	"Following up on {{ topic }}",
	"{{ topic }} - checking in",
	"Re {{ topic }}: next steps",
	"Catching up on {{ topic }}",
}

var bodyTemplates = []string{
	`Hi {{ name }},

I was thinking about {{ topic }} earlier and wanted to get your take. Do you have a few minutes this week to chat?

Best,
{{ sender }}`,
	`Hey {{ name }},

Hope your week is going well. I came across something interesting on {{ topic }} and thought of you. Would love to hear what you think.

Cheers,
{{ sender }}`,
	`Hi {{ name }},

Just checking in on {{ topic }}. No rush at all, but let me know when you get a chance.

Thanks,
{{ sender }}`,
}

var replyTemplates = []string{
	`Hi {{ name }},

Thanks for reaching out! {{ topic }} sounds good to me. Let's find some time this week.

Best,
{{ sender }}`,
	`Hey {{ name }},

Good to hear from you. I'll take a look at {{ topic }} and get back to you with details.

Cheers,
{{ sender }}`,
	`Hi {{ name }},

Appreciate the note. Happy to discuss {{ topic }} whenever works for you.

Thanks,
{{ sender }}`,
}

var topics = []string{
	"the quarterly report", "next week's schedule", "the project timeline",
	"the team offsite", "the budget review", "the new rollout",
	"the vendor proposal", "the planning doc",
}

// Mail is one generated subject/body pair.
type Mail struct {
	Subject string
	Body    string
}

// Generator renders warmup mail content. The random source is injected so
// tests can fix the seed.
type Generator struct {
	engine *liquid.Engine
	rng    *rand.Rand
}

// NewGenerator returns a content generator. A nil rng gets a time-seeded
// source.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{engine: liquid.NewEngine(), rng: rng}
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) render(tmpl string, bindings map[string]any) (string, error) {
	out, err := g.engine.ParseAndRenderString(tmpl, bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ContainsSpamWords reports whether text trips the self-check list.
func ContainsSpamWords(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range spamWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// New generates a fresh warmup mail addressed from senderName to
// recipientName.
func (g *Generator) New(senderName, recipientName string) (Mail, error) {
	return g.generate(subjectTemplates, bodyTemplates, senderName, recipientName)
}

// Reply generates a reply body for an existing thread. The subject is
// derived from the original by the caller.
func (g *Generator) Reply(senderName, recipientName string) (Mail, error) {
	return g.generate(subjectTemplates, replyTemplates, senderName, recipientName)
}

func (g *Generator) generate(subjects, bodies []string, senderName, recipientName string) (Mail, error) {
	const maxTries = 5
	for i := 0; i < maxTries; i++ {
		bindings := map[string]any{
			"name":   recipientName,
			"sender": senderName,
			"topic":  g.pick(topics),
		}

		subject, err := g.render(g.pick(subjects), bindings)
		if err != nil {
			return Mail{}, err
		}
		body, err := g.render(g.pick(bodies), bindings)
		if err != nil {
			return Mail{}, err
		}

		if len(subject) > maxSubjectLen {
			subject = subject[:maxSubjectLen]
		}
		if ContainsSpamWords(subject) || ContainsSpamWords(body) {
			continue
		}
		return Mail{Subject: subject, Body: body}, nil
	}
	return Mail{}, fmt.Errorf("content generation failed spam self-check %d times", maxTries)
}

// DisplayName derives a friendly name from an email address, used when no
// name is configured. "john.doe@example.com" becomes "John".
func DisplayName(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	for _, sep := range []string{".", "_", "-", "+"} {
		if i := strings.Index(local, sep); i >= 0 {
			local = local[:i]
		}
	}
	if local == "" {
		return "there"
	}
	return strings.ToUpper(local[:1]) + strings.ToLower(local[1:])
}
