package templates

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/formula"
	"github.com/siraevrus/stockyard/internal/shared"
)

var variablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Service owns template lifecycle and schema validation rules.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the template service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CreateInput carries a new template with its full attribute schema.
type CreateInput struct {
	Name       string
	Unit       string
	Formula    string
	Attributes []Attribute
}

// List returns templates matching the filters plus the total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Template, int, error) {
	return s.repo.List(ctx, filters)
}

// GetSchema loads a template together with its attributes.
func (s *Service) GetSchema(ctx context.Context, id int64) (Schema, error) {
	return s.repo.GetSchema(ctx, id)
}

// Create validates and persists a template with its attribute schema.
func (s *Service) Create(ctx context.Context, in CreateInput) (Schema, error) {
	tpl := Template{
		Name:     strings.TrimSpace(in.Name),
		Unit:     strings.TrimSpace(in.Unit),
		Formula:  strings.TrimSpace(in.Formula),
		IsActive: true,
	}
	if err := validateDefinition(tpl, in.Attributes); err != nil {
		return Schema{}, err
	}
	schema, err := s.repo.Create(ctx, tpl, in.Attributes)
	if err != nil {
		return Schema{}, err
	}
	s.logger.Info("template created", "template_id", schema.Template.ID, "name", schema.Template.Name)
	return schema, nil
}

// Update changes a template's header fields. The attribute schema itself is
// immutable once lots reference it; only name, unit, formula and active flag
// may change, and a new formula must still resolve against the stored schema.
func (s *Service) Update(ctx context.Context, id int64, tpl Template) error {
	schema, err := s.repo.GetSchema(ctx, id)
	if err != nil {
		return err
	}
	tpl.Name = strings.TrimSpace(tpl.Name)
	tpl.Formula = strings.TrimSpace(tpl.Formula)
	if err := validateDefinition(tpl, schema.Attributes); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, tpl)
}

// Deactivate retires a template from new intakes without touching history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.Deactivate(ctx, id)
}

func validateDefinition(tpl Template, attrs []Attribute) error {
	fields := map[string]string{}
	if tpl.Name == "" {
		fields["name"] = "required"
	}
	if tpl.Unit == "" {
		fields["unit"] = "required"
	}

	seenNames := map[string]bool{}
	seenVars := map[string]bool{}
	numericVars := map[string]bool{}
	for i, attr := range attrs {
		key := fmt.Sprintf("attributes[%d]", i)
		if strings.TrimSpace(attr.Name) == "" {
			fields[key+".name"] = "required"
		} else if seenNames[attr.Name] {
			fields[key+".name"] = "duplicate attribute name"
		}
		seenNames[attr.Name] = true

		if !variablePattern.MatchString(attr.Variable) {
			fields[key+".variable"] = "must be a valid identifier"
		} else if seenVars[attr.Variable] {
			fields[key+".variable"] = "duplicate variable"
		}
		seenVars[attr.Variable] = true

		switch attr.Kind {
		case attribute.KindText, attribute.KindNumber, attribute.KindSelect:
		default:
			fields[key+".kind"] = "unknown kind"
		}
		if attr.Kind == attribute.KindSelect && len(attr.Options) == 0 {
			fields[key+".options"] = "select attributes need at least one option"
		}
		if attr.InFormula && attr.Kind != attribute.KindNumber {
			fields[key+".in_formula"] = "only numeric attributes can feed the formula"
		}
		if attr.InFormula && attr.Kind == attribute.KindNumber {
			numericVars[attr.Variable] = true
		}
	}

	if tpl.Formula != "" {
		vars, err := formula.Vars(tpl.Formula)
		if err != nil {
			fields["formula"] = err.Error()
		} else {
			for _, v := range vars {
				if !numericVars[v] {
					fields["formula"] = fmt.Sprintf("variable %q has no numeric attribute", v)
					break
				}
			}
		}
	}

	if len(fields) > 0 {
		return shared.NewValidationErrors(fields)
	}
	return nil
}
