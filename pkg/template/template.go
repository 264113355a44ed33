// Package template generates starter PrepareRequest documents for the
// prepare command.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loykin/dbguest/internal/lifecycle"
)

// TemplateType selects the shape of the generated request.
type TemplateType string

const (
	TypeMinimal TemplateType = "minimal"
	TypeBasic   TemplateType = "basic"
	TypeDevice  TemplateType = "device"
	TypeVolume  TemplateType = "volume"
	TypeFull    TemplateType = "full"
)

var aliases = map[TemplateType]TemplateType{
	TypeMinimal: TypeMinimal,
	TypeBasic:   TypeMinimal,
	TypeDevice:  TypeDevice,
	TypeVolume:  TypeDevice,
	TypeFull:    TypeFull,
}

// Generator builds PrepareRequest templates.
type Generator struct {
	// Package is the OS package installed by the template.
	Package string
	// MountPoint is used by templates that attach a data volume.
	MountPoint string
}

func NewGenerator() *Generator {
	return &Generator{Package: "vertica", MountPoint: lifecycle.DefaultConfig().MountPoint}
}

// Generate returns a request for templateType; database names the
// database to create.
func (g *Generator) Generate(templateType TemplateType, database string) (*lifecycle.PrepareRequest, error) {
	if database == "" {
		database = lifecycle.DefaultConfig().Database
	}
	switch aliases[templateType] {
	case TypeMinimal:
		return g.minimal(database), nil
	case TypeDevice:
		return g.device(database), nil
	case TypeFull:
		return g.full(database), nil
	}
	return nil, fmt.Errorf("unsupported template type: %s (supported: %v)", templateType, g.SupportedTypes())
}

func (g *Generator) GenerateJSON(templateType TemplateType, database string) ([]byte, error) {
	req, err := g.Generate(templateType, database)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

func (g *Generator) SupportedTypes() []string {
	out := make([]string, 0, len(aliases))
	for t := range aliases {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func (g *Generator) minimal(database string) *lifecycle.PrepareRequest {
	return &lifecycle.PrepareRequest{
		Packages:  []string{g.Package},
		Databases: []lifecycle.DatabaseSpec{{Name: database}},
	}
}

func (g *Generator) device(database string) *lifecycle.PrepareRequest {
	req := g.minimal(database)
	req.DevicePath = "/dev/vdb"
	req.MountPoint = g.MountPoint
	return req
}

func (g *Generator) full(database string) *lifecycle.PrepareRequest {
	req := g.device(database)
	req.MemoryMB = 4096
	req.Users = []lifecycle.UserSpec{{Name: "app", Databases: []string{database}}}
	req.ConfigContents = "MaxClientSessions = 100\n"
	req.Overrides = map[string]any{"MaxClientSessions": 100}
	return req
}
