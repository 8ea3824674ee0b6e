// Package config loads pkgdeliver.yaml, the settings for one image.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/pkgdeliver/internal/ageutil"
	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
	"github.com/atomikpanda/pkgdeliver/internal/image"
	"github.com/atomikpanda/pkgdeliver/internal/logging"
	"github.com/atomikpanda/pkgdeliver/internal/platform"
	"github.com/atomikpanda/pkgdeliver/internal/salvage"
)

// Config is the top-level configuration document.
type Config struct {
	Image     ImageConfig       `yaml:"image"`
	Ownership image.OwnerPolicy `yaml:"ownership"`
	OnError   string            `yaml:"on_error" validate:"omitempty,oneof=abort continue"`
	Preflight bool              `yaml:"preflight"`
	Log       logging.Config    `yaml:"log"`
	Age       AgeConfig         `yaml:"age"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// ImageConfig locates the image and its bookkeeping. Relative paths other
// than Root are placed under Root.
type ImageConfig struct {
	Root    string `yaml:"root" validate:"required"`
	Admin   string `yaml:"admin" validate:"omitempty,oneof=auto true false"`
	Store   string `yaml:"store"`
	Salvage string `yaml:"salvage"`
	Journal string `yaml:"journal"`
	Index   string `yaml:"index"`
}

// AgeConfig is the credential for encrypted staged content.
type AgeConfig struct {
	Identity   string `yaml:"identity" validate:"excluded_with=Passphrase"`
	Passphrase string `yaml:"passphrase"`
}

// MetricsConfig controls the Prometheus textfile written after apply.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration for the image at root.
func Default(root string) *Config {
	c := &Config{Image: ImageConfig{Root: root}}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	def := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	def(&c.Image.Admin, "auto")
	def(&c.Image.Store, filepath.Join("var", "pkg", "download"))
	def(&c.Image.Salvage, filepath.Join("var", "pkg", "lost+found"))
	def(&c.Image.Journal, filepath.Join("var", "pkg", "journal.log"))
	def(&c.Image.Index, filepath.Join("var", "pkg", "index.db"))
	def(&c.OnError, "abort")
	def(&c.Metrics.Namespace, "pkgdeliver")
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Root returns the expanded image root.
func (c *Config) Root() string {
	return filepath.Clean(platform.ExpandPath(c.Image.Root))
}

// StorePath, SalvagePath, JournalPath and IndexPath resolve their settings
// against the root.
func (c *Config) StorePath() string   { return platform.UnderRoot(c.Root(), c.Image.Store) }
func (c *Config) SalvagePath() string { return platform.UnderRoot(c.Root(), c.Image.Salvage) }
func (c *Config) JournalPath() string { return platform.UnderRoot(c.Root(), c.Image.Journal) }
func (c *Config) IndexPath() string   { return platform.UnderRoot(c.Root(), c.Image.Index) }

// Admin resolves the admin setting; "auto" defers to detect.
func (c *Config) Admin(detect func() bool) bool {
	switch c.Image.Admin {
	case "true":
		return true
	case "false":
		return false
	default:
		return detect()
	}
}

// NewImage builds the image context described by c.
func (c *Config) NewImage(admin bool) *image.Image {
	img := image.New(c.Root(), admin)
	img.Store = contentstore.New(c.StorePath())
	img.Salvage = salvage.New(c.SalvagePath())
	owners := c.Ownership
	img.Owners = &owners
	if c.Age.Identity != "" || c.Age.Passphrase != "" {
		img.AgeKey = &ageutil.Key{
			IdentityFile: platform.ExpandPath(c.Age.Identity),
			Passphrase:   c.Age.Passphrase,
		}
	}
	return img
}
