package portals

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
	"gopkg.in/yaml.v3"
)

// Registry holds the configured portals in file order. Selection by name is
// case-sensitive: "Haryana" and "haryana" are different registry entries,
// even though both normalize to the same tender identity.
type Registry struct {
	logger  arbor.ILogger
	ordered []*models.Portal
	byName  map[string]*models.Portal
}

// yamlFile is the shape of portals.yaml
type yamlFile struct {
	Portals []models.Portal `yaml:"portals"`
}

// Load reads the CSV registry and overlays the YAML registry. Both files
// are optional individually but at least one must yield a portal; an empty
// registry is a configuration error.
func Load(csvPath, yamlPath string, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{
		logger: logger,
		byName: make(map[string]*models.Portal),
	}

	csvCount, err := r.loadCSV(csvPath)
	if err != nil {
		return nil, err
	}
	yamlCount, err := r.loadYAML(yamlPath)
	if err != nil {
		return nil, err
	}

	if len(r.ordered) == 0 {
		return nil, fmt.Errorf("portal registry is empty: no portals in %s or %s", csvPath, yamlPath)
	}

	if err := r.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("portals", len(r.ordered)).
		Int("from_csv", csvCount).
		Int("from_yaml", yamlCount).
		Msg("Portal registry loaded")

	return r, nil
}

// Get returns the portal registered under the exact name
func (r *Registry) Get(name string) (*models.Portal, error) {
	portal, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown portal %q: not present in the portal registry", name)
	}
	return portal, nil
}

// All returns the portals in registry file order
func (r *Registry) All() []*models.Portal {
	out := make([]*models.Portal, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns the registered portal names sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scheduled returns the portals that carry a cron schedule
func (r *Registry) Scheduled() []*models.Portal {
	var out []*models.Portal
	for _, p := range r.ordered {
		if p.Schedule != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadCSV reads base_urls.csv. The first row is the header; columns are
// matched by header name so extra columns can be added without breaking
// older files. Returns the number of rows loaded.
func (r *Registry) loadCSV(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("path", path).Msg("Portal CSV not found, skipping")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open portal CSV %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read portal CSV header %s: %w", path, err)
	}
	cols := indexColumns(header)
	if _, ok := cols["name"]; !ok {
		return 0, fmt.Errorf("portal CSV %s is missing the Name column", path)
	}
	if _, ok := cols["baseurl"]; !ok {
		return 0, fmt.Errorf("portal CSV %s is missing the BaseURL column", path)
	}

	count := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return count, fmt.Errorf("portal CSV %s line %d: %w", path, line, err)
		}

		cell := func(key string) string {
			idx, ok := cols[key]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		name := cell("name")
		if name == "" {
			continue // blank rows are tolerated
		}

		portal := &models.Portal{
			Name:       name,
			BaseURL:    cell("baseurl"),
			OrgListURL: cell("orglisturl"),
			Keyword:    cell("keyword"),
			SkillID:    cell("skillid"),
			Category:   models.PortalCategory(strings.ToLower(cell("category"))),
		}
		if rpm := cell("ratelimitrpm"); rpm != "" {
			v, err := strconv.Atoi(rpm)
			if err != nil {
				return count, fmt.Errorf("portal CSV %s line %d: RateLimitRPM %q is not a number", path, line, rpm)
			}
			portal.RateLimitRPM = v
		}
		if cooldown := cell("cooldownseconds"); cooldown != "" {
			v, err := strconv.Atoi(cooldown)
			if err != nil {
				return count, fmt.Errorf("portal CSV %s line %d: CooldownSeconds %q is not a number", path, line, cooldown)
			}
			portal.CooldownSeconds = v
		}

		r.add(portal)
		count++
	}

	return count, nil
}

// loadYAML overlays portals.yaml. A YAML entry with the same Name replaces
// the CSV row wholesale; order position is kept from the first sighting.
func (r *Registry) loadYAML(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("path", path).Msg("Portal YAML not found, skipping")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read portal YAML %s: %w", path, err)
	}

	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse portal YAML %s: %w", path, err)
	}

	for i := range file.Portals {
		portal := file.Portals[i]
		portal.Name = strings.TrimSpace(portal.Name)
		if portal.Name == "" {
			return 0, fmt.Errorf("portal YAML %s: entry %d has no name", path, i+1)
		}
		r.add(&portal)
	}

	return len(file.Portals), nil
}

// add inserts or replaces by exact name, preserving first-seen order
func (r *Registry) add(portal *models.Portal) {
	if existing, ok := r.byName[portal.Name]; ok {
		*existing = *portal
		r.byName[portal.Name] = existing
		return
	}
	r.byName[portal.Name] = portal
	r.ordered = append(r.ordered, portal)
}

// validate checks every portal against the model's constraints. The first
// violation fails the whole load; a registry with one bad row is treated
// as broken configuration, not partially usable.
func (r *Registry) validate() error {
	validate := validator.New()
	for _, portal := range r.ordered {
		if err := validate.Struct(portal); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				f := verrs[0]
				return fmt.Errorf("invalid portal %q: %s=%v violates %s=%s", portal.Name, f.Field(), f.Value(), f.Tag(), f.Param())
			}
			return fmt.Errorf("invalid portal %q: %w", portal.Name, err)
		}
	}
	return nil
}

// indexColumns maps lowercased, separator-stripped header names to their
// positions, so `Base URL`, `base_url` and `BaseURL` all resolve.
func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, "_", "")
		key = strings.ReplaceAll(key, " ", "")
		if key != "" {
			cols[key] = i
		}
	}
	return cols
}
