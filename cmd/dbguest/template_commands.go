package main

import (
	"fmt"
	"os"

	"github.com/loykin/dbguest/pkg/template"
)

// TemplateCreate writes a starter prepare request, or prints it when no
// output path is given.
func (c *command) TemplateCreate(f TemplateCreateFlags) error {
	content, err := template.NewGenerator().GenerateJSON(template.TemplateType(f.Type), f.Database)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}
	if f.Output == "" {
		_, _ = fmt.Fprintln(c.out, string(content))
		return nil
	}
	if _, err := os.Stat(f.Output); err == nil && !f.Force {
		return fmt.Errorf("template file '%s' already exists (use --force to overwrite)", f.Output)
	}
	if err := os.WriteFile(f.Output, content, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Template '%s' created: %s\n", f.Type, f.Output)
	_, _ = fmt.Fprintf(c.out, "Edit the template and apply it with: dbguest prepare --file %s\n", f.Output)
	return nil
}

func (c *command) TemplateList() {
	for _, t := range template.NewGenerator().SupportedTypes() {
		_, _ = fmt.Fprintln(c.out, t)
	}
}
