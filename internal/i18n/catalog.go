// Package i18n holds the read-only message catalogs used to render spoken
// and display text. Catalogs ship embedded in the binary; an optional
// directory with the same layout overrides or extends them and can be
// watched for changes.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/voicecmd/internal/intent"
)

// BaseLocale is the locale every catalog set must define.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embeddedFS embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// bundle is an immutable snapshot of all loaded locales.
type bundle struct {
	locales  map[string]map[string]string
	tags     []language.Tag
	names    []string
	matcher  language.Matcher
	fallback string
}

// Catalog resolves message keys per locale. It is safe for concurrent use;
// Reload swaps the whole snapshot atomically.
type Catalog struct {
	dir      string
	fallback string
	current  atomic.Pointer[bundle]
}

// Load builds a catalog from the embedded locales, overlaid with dir when it
// is non-empty. fallback names the locale used when negotiation fails; it
// defaults to BaseLocale.
func Load(dir, fallback string) (*Catalog, error) {
	if strings.TrimSpace(fallback) == "" {
		fallback = BaseLocale
	}
	c := &Catalog{dir: dir, fallback: fallback}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads every catalog source. On error the previous snapshot stays.
func (c *Catalog) Reload() error {
	locales := map[string]map[string]string{}
	if err := loadFS(embeddedFS, locales); err != nil {
		return fmt.Errorf("load embedded catalogs: %w", err)
	}
	if c.dir != "" {
		if _, err := os.Stat(c.dir); err != nil {
			return fmt.Errorf("catalog dir %s: %w", c.dir, err)
		}
		if err := loadFS(os.DirFS(c.dir), locales); err != nil {
			return fmt.Errorf("load catalogs from %s: %w", c.dir, err)
		}
	}

	b, err := newBundle(locales, c.fallback)
	if err != nil {
		return err
	}
	c.current.Store(b)
	return nil
}

func loadFS(fsys fs.FS, into map[string]map[string]string) error {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return fmt.Errorf("glob locale catalogs: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read catalog %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse catalog %s: %w", path, err)
		}

		fromPath := filepath.Base(filepath.Dir(path))
		locale := strings.TrimSpace(file.Locale)
		if locale == "" {
			return fmt.Errorf("catalog %s: locale is required", path)
		}
		if locale != fromPath {
			return fmt.Errorf("catalog %s: locale %q must match path locale %q", path, locale, fromPath)
		}
		if file.Messages == nil {
			return fmt.Errorf("catalog %s: messages map is required", path)
		}

		msgs, ok := into[locale]
		if !ok {
			msgs = map[string]string{}
			into[locale] = msgs
		}
		for key, value := range file.Messages {
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("catalog %s: message key cannot be blank", path)
			}
			msgs[key] = value
		}
	}
	return nil
}

func newBundle(locales map[string]map[string]string, fallback string) (*bundle, error) {
	if _, ok := locales[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	if _, ok := locales[fallback]; !ok {
		return nil, fmt.Errorf("default locale %s is not defined in catalogs", fallback)
	}

	b := &bundle{locales: locales, fallback: fallback}

	// The fallback goes first so the matcher prefers it on weak matches.
	b.names = append(b.names, fallback)
	for name := range locales {
		if name != fallback {
			b.names = append(b.names, name)
		}
	}
	sort.Strings(b.names[1:])

	for _, name := range b.names {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("parse locale tag %q: %w", name, err)
		}
		b.tags = append(b.tags, tag)
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Negotiate picks the best catalog locale for a BCP-47 tag.
func (c *Catalog) Negotiate(locale string) string {
	return c.current.Load().negotiate(locale)
}

func (b *bundle) negotiate(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return b.fallback
	}
	if _, ok := b.locales[locale]; ok {
		return locale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return b.fallback
	}
	_, idx, conf := b.matcher.Match(tag)
	if conf == language.No {
		return b.fallback
	}
	return b.names[idx]
}

// Lookup returns the message for key in the negotiated locale, falling back
// to the default locale and then BaseLocale.
func (c *Catalog) Lookup(key, locale string) (string, bool) {
	b := c.current.Load()
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	for _, name := range []string{b.negotiate(locale), b.fallback, BaseLocale} {
		if s, ok := b.locales[name][key]; ok {
			return s, true
		}
	}
	return "", false
}

// Locales returns the loaded locale names, default first.
func (c *Catalog) Locales() []string {
	names := c.current.Load().names
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// HasLocale reports whether a catalog exists for exactly this locale.
func (c *Catalog) HasLocale(locale string) bool {
	_, ok := c.current.Load().locales[strings.TrimSpace(locale)]
	return ok
}

// Keys returns the sorted message keys defined for a locale.
func (c *Catalog) Keys(locale string) []string {
	msgs := c.current.Load().locales[strings.TrimSpace(locale)]
	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bind returns the templates for one locale. The binding follows reloads.
func (c *Catalog) Bind(locale string) intent.Templates {
	return &Bound{catalog: c, locale: locale}
}

// Bound is a Catalog fixed to one requested locale.
type Bound struct {
	catalog *Catalog
	locale  string
}

// Lookup resolves key in the bound locale.
func (b *Bound) Lookup(key string) (string, bool) {
	return b.catalog.Lookup(key, b.locale)
}

// ErrNoDir is returned by Watch when the catalog has no directory overlay.
var ErrNoDir = errors.New("catalog has no directory to watch")
