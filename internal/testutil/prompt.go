package testutil

import "sync"

// ScriptedPrompter returns queued answers in order. An exhausted queue
// reports cancellation.
type ScriptedPrompter struct {
	mu        sync.Mutex
	Texts     []string
	Passwords []string
	YesNo     bool

	TextPrompts     []string
	PasswordPrompts []string
	YesNoPrompts    []string
}

func (p *ScriptedPrompter) PromptText(title, message string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TextPrompts = append(p.TextPrompts, title+": "+message)
	if len(p.Texts) == 0 {
		return "", false
	}
	v := p.Texts[0]
	p.Texts = p.Texts[1:]
	return v, true
}

func (p *ScriptedPrompter) PromptPassword(title, message string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PasswordPrompts = append(p.PasswordPrompts, title+": "+message)
	if len(p.Passwords) == 0 {
		return "", false
	}
	v := p.Passwords[0]
	p.Passwords = p.Passwords[1:]
	return v, true
}

func (p *ScriptedPrompter) PromptYesNo(title, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.YesNoPrompts = append(p.YesNoPrompts, title+": "+message)
	return p.YesNo
}
