// Package content holds the declarative data the site renders: project
// cards, dashboard embeds and path rewrites.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ja-portfolio/portfolio-site/internal/rewrite"
)

//go:embed site.yaml
var defaultSite []byte

// ErrUnknownProject is returned when a slug does not name a project.
var ErrUnknownProject = errors.New("unknown project")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Project is one portfolio card.
type Project struct {
	Slug        string   `yaml:"slug" validate:"required,slug"`
	Title       string   `yaml:"title" validate:"required"`
	Description string   `yaml:"description" validate:"required"`
	Link        string   `yaml:"link" validate:"required,url"`
	Tags        []string `yaml:"tags" validate:"dive,required"`
}

// Embed is an externally hosted app shown in an iframe.
type Embed struct {
	Title       string `yaml:"title" validate:"required"`
	Description string `yaml:"description"`
	URL         string `yaml:"url" validate:"required,url"`
}

// Rewrite maps an inbound path pattern to an external destination.
type Rewrite = rewrite.Definition

type Site struct {
	Title           string    `yaml:"title" validate:"required"`
	Heading         string    `yaml:"heading"`
	ProjectsHeading string    `yaml:"projects_heading"`
	Projects        []Project `yaml:"projects" validate:"dive"`
	Embeds          []Embed   `yaml:"embeds" validate:"dive"`
	Rewrites        []Rewrite `yaml:"rewrites" validate:"dive"`
}

// Default returns the site content compiled into the binary.
func Default() (*Site, error) {
	return Parse(defaultSite)
}

// Load reads and validates a YAML content file.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Site, error) {
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if site.Heading == "" {
		site.Heading = site.Title
	}
	if site.ProjectsHeading == "" {
		site.ProjectsHeading = "Projects"
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	return &site, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	// Patterns must compile so a bad table fails at load, not at serve.
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		rw := sl.Current().Interface().(Rewrite)
		if _, err := rewrite.Compile(rw.Source, rw.Destination); err != nil {
			sl.ReportError(rw.Source, "Source", "Source", "pattern", "")
		}
	}, Rewrite{})
	return v
}

// Validate checks required fields, URLs, rewrite patterns and slug
// uniqueness.
func (s *Site) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid content: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid content: %w", err)
	}

	seen := make(map[string]bool, len(s.Projects))
	for _, p := range s.Projects {
		if seen[p.Slug] {
			return fmt.Errorf("invalid content: duplicate project slug %q", p.Slug)
		}
		seen[p.Slug] = true
	}
	return nil
}

// Project looks a project up by slug.
func (s *Site) Project(slug string) (Project, error) {
	for _, p := range s.Projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return Project{}, fmt.Errorf("%w: %s", ErrUnknownProject, slug)
}
