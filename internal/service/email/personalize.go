package email

import (
	"fmt"

	"github.com/osteele/liquid"
)

// personalizer renders {{ name }} / {{ email }} placeholders per recipient
// for emails that opt in. Any other variable is an error.
type personalizer struct {
	engine *liquid.Engine
}

func newPersonalizer() *personalizer {
	engine := liquid.NewEngine()
	engine.StrictVariables()
	return &personalizer{engine: engine}
}

func recipientVars(email, name string) map[string]any {
	return map[string]any{"email": email, "name": name}
}

func (p *personalizer) render(src string, vars map[string]any) (string, error) {
	out, err := p.engine.ParseAndRenderString(src, vars)
	if err != nil {
		return "", err
	}
	return out, nil
}

// check reports template errors in src before anything is stored.
func (p *personalizer) check(field, src string) error {
	if _, err := p.render(src, recipientVars("", "")); err != nil {
		return fmt.Errorf("%w: %s template: %v", ErrValidation, field, err)
	}
	return nil
}
